package enum

type EmailProvider string

const (
	EmailProviderGeneric      EmailProvider = "generic"
	EmailProviderGenericOAuth EmailProvider = "generic_oauth"
	EmailProviderGmail        EmailProvider = "gmail"
	EmailProviderOutlook      EmailProvider = "outlook"
)

func (t EmailProvider) String() string {
	return string(t)
}

func DecodeEmailProvider(s string) EmailProvider {
	switch s {
	case "gmail":
		return EmailProviderGmail
	case "outlook":
		return EmailProviderOutlook
	case "generic_oauth":
		return EmailProviderGenericOAuth
	default:
		return EmailProviderGeneric
	}
}

type EmailSecurity string

const (
	EmailSecurityNone     EmailSecurity = "none"
	EmailSecurityTLS      EmailSecurity = "tls"
	EmailSecurityStartTLS EmailSecurity = "startTLS"
)

func (t EmailSecurity) String() string {
	return string(t)
}
