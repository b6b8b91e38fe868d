package settlement

import (
	"html"
	"strings"

	"ledgermail/backend/internal/claim"
	"ledgermail/backend/internal/domain"
)

// transferSummary 追加在正文末尾的转账说明
func transferSummary(assets []domain.Asset, isDirect bool, code, claimURL string) string {
	var b strings.Builder
	b.WriteString("\n\n---\n")
	if isDirect {
		b.WriteString("The following assets were delivered directly to your wallet:\n")
	} else {
		b.WriteString("You have been sent the following assets:\n")
	}
	for _, asset := range assets {
		b.WriteString("  - ")
		b.WriteString(asset.Label())
		b.WriteString("\n")
	}
	if !isDirect {
		b.WriteString("Claim code: ")
		b.WriteString(claim.FormatCode(code))
		b.WriteString("\nClaim them at: ")
		b.WriteString(claimURL)
		b.WriteString("\n")
	}
	return b.String()
}

// transferSummaryHTML transferSummary 的 HTML 版本
func transferSummaryHTML(assets []domain.Asset, isDirect bool, code, claimURL string) string {
	var b strings.Builder
	b.WriteString("<hr>")
	if isDirect {
		b.WriteString("<p>The following assets were delivered directly to your wallet:</p>")
	} else {
		b.WriteString("<p>You have been sent the following assets:</p>")
	}
	b.WriteString("<ul>")
	for _, asset := range assets {
		b.WriteString("<li>")
		b.WriteString(html.EscapeString(asset.Label()))
		b.WriteString("</li>")
	}
	b.WriteString("</ul>")
	if !isDirect {
		b.WriteString("<p>Claim code: <strong>")
		b.WriteString(html.EscapeString(claim.FormatCode(code)))
		b.WriteString(`</strong></p><p><a href="`)
		b.WriteString(html.EscapeString(claimURL))
		b.WriteString(`">Claim your assets</a></p>`)
	}
	return b.String()
}

// compose 构造写入内容存储的邮件内容
func (o *Orchestrator) compose(req SendRequest, isDirect bool, code string) *domain.ContentRecord {
	record := &domain.ContentRecord{
		Subject:     req.Subject,
		Body:        req.Body,
		HTMLBody:    req.HTMLBody,
		TextBody:    req.Body,
		From:        req.Sender,
		Timestamp:   o.now().UTC(),
		Attachments: req.Attachments,
		InReplyTo:   req.InReplyTo,
	}

	if len(req.Assets) == 0 {
		return record
	}

	var claimURL string
	if code != "" {
		claimURL = claim.ClaimURL(o.opts.ClaimBaseURL, code)
	}
	record.Body += transferSummary(req.Assets, isDirect, code, claimURL)
	record.TextBody = record.Body
	if record.HTMLBody != "" {
		record.HTMLBody += transferSummaryHTML(req.Assets, isDirect, code, claimURL)
	}
	record.ValueTransfer = &domain.TransferMeta{
		Assets:    req.Assets,
		IsDirect:  isDirect,
		ClaimCode: code,
	}
	return record
}
