package provider

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/customeros/mailsherpa/mailvalidate"
	goimap "github.com/emersion/go-imap"
	"github.com/jhillyerd/enmime"

	"github.com/worksphere/mailsync/interfaces"
	"github.com/worksphere/mailsync/internal/enum"
	"github.com/worksphere/mailsync/internal/utils"
)

// parseImapMessage converts a raw fetched message into the normalized form
// that the store consumes. Folder classification is delegated to the adapter
// so the Gmail label semantics stay out of the generic path.
func parseImapMessage(msg *goimap.Message, folder enum.FolderType) *interfaces.ParsedMessage {
	parsed := &interfaces.ParsedMessage{
		UID:    msg.Uid,
		Folder: folder,
		Labels: readGmailLabels(msg),
	}

	for _, flag := range msg.Flags {
		switch flag {
		case goimap.SeenFlag:
			parsed.Seen = true
		case goimap.FlaggedFlag:
			parsed.Flagged = true
		}
	}

	parseEnvelope(parsed, msg.Envelope)

	raw := extractFullMessage(msg)
	if len(raw) > 0 {
		parseWithEnmime(parsed, raw)
	} else if msg.BodyStructure != nil {
		parsed.Attachments = attachmentsFromStructure(msg.BodyStructure)
		parsed.HasAttachment = len(parsed.Attachments) > 0
	}

	return parsed
}

func parseEnvelope(parsed *interfaces.ParsedMessage, envelope *goimap.Envelope) {
	if envelope == nil {
		return
	}

	if !envelope.Date.IsZero() {
		sentTime := envelope.Date
		parsed.SentAt = &sentTime
	}

	parsed.Subject = envelope.Subject
	parsed.MessageID = utils.NormalizeMessageID(envelope.MessageId)

	parseInReplyTo(parsed, envelope.InReplyTo)

	if len(envelope.From) > 0 {
		sender := envelope.From[0]
		parsed.FromName = sender.PersonalName
		syntaxValidation := mailvalidate.ValidateEmailSyntax(sender.Address())
		if syntaxValidation.IsValid {
			parsed.FromAddress = syntaxValidation.CleanEmail
		} else {
			parsed.FromAddress = sender.Address()
		}
	}

	parsed.To = addressesToStrings(envelope.To)
	parsed.Cc = addressesToStrings(envelope.Cc)
	parsed.Bcc = addressesToStrings(envelope.Bcc)

	envelopeMap := make(map[string]interface{})
	envelopeMap["date"] = envelope.Date
	envelopeMap["subject"] = envelope.Subject
	envelopeMap["message_id"] = envelope.MessageId
	envelopeMap["in_reply_to"] = envelope.InReplyTo
	envelopeMap["from"] = addressesToMap(envelope.From)
	envelopeMap["to"] = addressesToMap(envelope.To)
	envelopeMap["cc"] = addressesToMap(envelope.Cc)
	envelopeMap["bcc"] = addressesToMap(envelope.Bcc)
	parsed.Envelope = envelopeMap
}

// parseInReplyTo splits the In-Reply-To header, which can carry multiple
// space-separated message IDs, into the first reference plus the full list.
func parseInReplyTo(parsed *interfaces.ParsedMessage, inReplyTo string) {
	if inReplyTo == "" {
		return
	}

	var refs []string
	for _, ref := range strings.Split(inReplyTo, " ") {
		ref = strings.Trim(ref, "<>")
		if ref != "" && !utils.IsStringInSlice(ref, refs) {
			refs = append(refs, ref)
		}
	}

	if len(refs) > 0 {
		parsed.InReplyTo = refs[0]
	}
	parsed.References = refs
}

func addressesToStrings(addresses []*goimap.Address) []string {
	if len(addresses) == 0 {
		return nil
	}

	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		if addr.MailboxName == "" || addr.HostName == "" {
			continue
		}
		emailAddr := addr.Address()
		validation := mailvalidate.ValidateEmailSyntax(emailAddr)
		if validation.IsValid {
			result = append(result, validation.CleanEmail)
		} else {
			result = append(result, emailAddr)
		}
	}

	return result
}

func addressesToMap(addresses []*goimap.Address) []map[string]string {
	result := make([]map[string]string, 0, len(addresses))
	for _, addr := range addresses {
		result = append(result, map[string]string{
			"name":    addr.PersonalName,
			"address": addr.Address(),
		})
	}
	return result
}

// extractFullMessage pulls the whole RFC 822 body out of the fetch response.
func extractFullMessage(msg *goimap.Message) []byte {
	var buf bytes.Buffer

	for section, literal := range msg.Body {
		if section.Peek {
			continue
		}
		if len(section.Path) == 0 && section.Specifier == goimap.EntireSpecifier {
			data, err := io.ReadAll(literal)
			if err == nil {
				buf.Write(data)
				break
			}
		}
	}

	return buf.Bytes()
}

func parseWithEnmime(parsed *interfaces.ParsedMessage, raw []byte) {
	envelope, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return
	}

	headers := make(map[string]interface{})
	for _, key := range envelope.GetHeaderKeys() {
		values := envelope.GetHeaderValues(key)
		if len(values) > 0 {
			headers[key] = values
		}
	}
	parsed.RawHeaders = headers

	mergeReferences(parsed, headers)

	parsed.BodyText = envelope.Text
	parsed.BodyHTML = envelope.HTML

	for _, attachment := range envelope.Attachments {
		parsed.Attachments = append(parsed.Attachments, interfaces.AttachmentMeta{
			Filename:    attachment.FileName,
			ContentType: attachment.ContentType,
			Size:        len(attachment.Content),
		})
	}
	for _, inline := range envelope.Inlines {
		parsed.Attachments = append(parsed.Attachments, interfaces.AttachmentMeta{
			Filename:    inline.FileName,
			ContentType: inline.ContentType,
			Size:        len(inline.Content),
		})
	}

	parsed.HasAttachment = len(parsed.Attachments) > 0
}

// mergeReferences folds the References header into the list built from
// In-Reply-To, dropping duplicates.
func mergeReferences(parsed *interfaces.ParsedMessage, headers map[string]interface{}) {
	referencesRaw, ok := headers["References"]
	if !ok {
		return
	}

	var refsString string
	switch refs := referencesRaw.(type) {
	case []string:
		if len(refs) > 0 {
			refsString = refs[0]
		}
	case string:
		refsString = refs
	}

	if refsString == "" {
		return
	}

	refsString = strings.ReplaceAll(refsString, "\r\n", " ")
	refsString = strings.ReplaceAll(refsString, "\n", " ")

	allReferences := parsed.References
	for _, ref := range strings.Split(refsString, " ") {
		ref = strings.Trim(ref, "<>")
		if ref != "" && !utils.IsStringInSlice(ref, allReferences) {
			allReferences = append(allReferences, ref)
		}
	}

	parsed.References = allReferences
}

// attachmentsFromStructure is the metadata-only fallback used when the full
// body was not part of the fetch response.
func attachmentsFromStructure(bs *goimap.BodyStructure) []interfaces.AttachmentMeta {
	var attachments []interfaces.AttachmentMeta

	if bs.Disposition == "attachment" || bs.Disposition == "inline" {
		filename := ""
		if bs.DispositionParams != nil {
			filename = bs.DispositionParams["filename"]
		}
		if filename == "" && bs.Params != nil {
			filename = bs.Params["name"]
		}
		if filename == "" {
			filename = fmt.Sprintf("attachment.%s", strings.ToLower(bs.MIMESubType))
		}

		attachments = append(attachments, interfaces.AttachmentMeta{
			Filename:    filename,
			ContentType: fmt.Sprintf("%s/%s", bs.MIMEType, bs.MIMESubType),
			Size:        int(bs.Size),
		})
	}

	for _, part := range bs.Parts {
		attachments = append(attachments, attachmentsFromStructure(part)...)
	}

	return attachments
}

// readGmailLabels extracts X-GM-LABELS values when the fetch requested them.
func readGmailLabels(msg *goimap.Message) []string {
	raw, ok := msg.Items[goimap.FetchItem(fetchItemGmailLabels)]
	if !ok {
		return nil
	}

	fields, ok := raw.([]interface{})
	if !ok {
		return nil
	}

	labels := make([]string, 0, len(fields))
	for _, field := range fields {
		if label, ok := field.(string); ok {
			labels = append(labels, label)
		}
	}

	return labels
}

const fetchItemGmailLabels = "X-GM-LABELS"
