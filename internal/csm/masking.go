package csm

// MaskAppKey hides the key entirely.
func MaskAppKey(string) string { return "***masked***" }

// MaskAppSecret hides the secret entirely.
func MaskAppSecret(string) string { return "***masked***" }

// MaskAccountNo keeps the last four digits.
func MaskAccountNo(accountNo string) string {
	suffix := accountNo
	if len(accountNo) >= 4 {
		suffix = accountNo[len(accountNo)-4:]
	}
	return "******" + suffix
}

// MaskUserID keeps the first two characters.
func MaskUserID(userID string) string {
	prefix := userID
	if len(userID) >= 2 {
		prefix = userID[:2]
	}
	return prefix + "***"
}

// MaskCredential masks every field for logs and responses.
func MaskCredential(c Credential) MaskedCredential {
	return MaskedCredential{
		AppKey:    MaskAppKey(c.AppKey),
		AppSecret: MaskAppSecret(c.AppSecret),
		AccountNo: MaskAccountNo(c.AccountNo),
		UserID:    MaskUserID(c.UserID),
	}
}
