package provider

import (
	"testing"
	"time"

	goimap "github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worksphere/mailsync/interfaces"
	"github.com/worksphere/mailsync/internal/enum"
)

func TestParseImapMessage_EnvelopeAndFlags(t *testing.T) {
	sent := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	msg := &goimap.Message{
		Uid:   42,
		Flags: []string{goimap.SeenFlag, goimap.FlaggedFlag},
		Envelope: &goimap.Envelope{
			Date:      sent,
			Subject:   "Re: quarterly numbers",
			MessageId: "<reply-1@example.com>",
			InReplyTo: "<orig-1@example.com>",
			From: []*goimap.Address{
				{PersonalName: "Ada Lovelace", MailboxName: "ada", HostName: "example.com"},
			},
			To: []*goimap.Address{
				{MailboxName: "team", HostName: "example.com"},
			},
		},
	}

	parsed := parseImapMessage(msg, enum.FolderInbox)

	assert.Equal(t, uint32(42), parsed.UID)
	assert.Equal(t, enum.FolderInbox, parsed.Folder)
	assert.True(t, parsed.Seen)
	assert.True(t, parsed.Flagged)
	assert.Equal(t, "reply-1@example.com", parsed.MessageID)
	assert.Equal(t, "orig-1@example.com", parsed.InReplyTo)
	assert.Equal(t, "Ada Lovelace", parsed.FromName)
	assert.Equal(t, "ada@example.com", parsed.FromAddress)
	assert.Equal(t, []string{"team@example.com"}, parsed.To)
	require.NotNil(t, parsed.SentAt)
	assert.Equal(t, sent, *parsed.SentAt)
}

func TestParseInReplyTo_MultipleReferences(t *testing.T) {
	parsed := &interfaces.ParsedMessage{}
	parseInReplyTo(parsed, "<a@x> <b@x> <a@x>")

	assert.Equal(t, "a@x", parsed.InReplyTo)
	assert.Equal(t, []string{"a@x", "b@x"}, parsed.References)
}

func TestParseInReplyTo_Empty(t *testing.T) {
	parsed := &interfaces.ParsedMessage{}
	parseInReplyTo(parsed, "")

	assert.Empty(t, parsed.InReplyTo)
	assert.Empty(t, parsed.References)
}

func TestMergeReferences_FoldsHeaderIntoExistingList(t *testing.T) {
	parsed := &interfaces.ParsedMessage{References: []string{"a@x"}}
	mergeReferences(parsed, map[string]interface{}{
		"References": "<a@x>\r\n <b@x> <c@x>",
	})

	assert.Equal(t, []string{"a@x", "b@x", "c@x"}, parsed.References)
}

func TestMergeReferences_NoHeader(t *testing.T) {
	parsed := &interfaces.ParsedMessage{References: []string{"a@x"}}
	mergeReferences(parsed, map[string]interface{}{})

	assert.Equal(t, []string{"a@x"}, parsed.References)
}

func TestAddressesToStrings_SkipsIncompleteAddresses(t *testing.T) {
	got := addressesToStrings([]*goimap.Address{
		{MailboxName: "ada", HostName: "example.com"},
		{MailboxName: "", HostName: "example.com"},
		{MailboxName: "broken", HostName: ""},
	})

	assert.Equal(t, []string{"ada@example.com"}, got)
}

func TestAttachmentsFromStructure_WalksNestedParts(t *testing.T) {
	bs := &goimap.BodyStructure{
		MIMEType:    "multipart",
		MIMESubType: "mixed",
		Parts: []*goimap.BodyStructure{
			{MIMEType: "text", MIMESubType: "plain"},
			{
				MIMEType:          "application",
				MIMESubType:       "pdf",
				Disposition:       "attachment",
				DispositionParams: map[string]string{"filename": "report.pdf"},
				Size:              1024,
			},
			{
				MIMEType:    "image",
				MIMESubType: "png",
				Disposition: "inline",
				Params:      map[string]string{"name": "chart.png"},
			},
		},
	}

	attachments := attachmentsFromStructure(bs)
	require.Len(t, attachments, 2)
	assert.Equal(t, "report.pdf", attachments[0].Filename)
	assert.Equal(t, "application/pdf", attachments[0].ContentType)
	assert.Equal(t, 1024, attachments[0].Size)
	assert.Equal(t, "chart.png", attachments[1].Filename)
}

func TestReadGmailLabels(t *testing.T) {
	msg := &goimap.Message{
		Items: map[goimap.FetchItem]interface{}{
			goimap.FetchItem(fetchItemGmailLabels): []interface{}{"\\Inbox", "work"},
		},
	}
	assert.Equal(t, []string{"\\Inbox", "work"}, readGmailLabels(msg))

	assert.Nil(t, readGmailLabels(&goimap.Message{}))
}
