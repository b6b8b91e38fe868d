package cli

import (
	"time"

	"ledgermail/backend/internal/claim"
	"ledgermail/backend/internal/domain"
	"ledgermail/backend/internal/reconcile"
	"ledgermail/backend/internal/settlement"
)

// SendReport 发送结果的输出格式
type SendReport struct {
	Outcome        string             `json:"outcome"`
	Tally          settlement.Tally   `json:"tally"`
	Recipients     []RecipientReport  `json:"recipients"`
	AssetFailures  []AssetFailureInfo `json:"assetFailures,omitempty"`
	ClaimCode      string             `json:"claimCode,omitempty"`
	ClaimStored    bool               `json:"claimStored,omitempty"`
	Direct         bool               `json:"direct,omitempty"`
	ContentAddress string             `json:"contentAddress,omitempty"`
	Locator        string             `json:"locator,omitempty"`
}

// RecipientReport 单个收件人的输出格式
type RecipientReport struct {
	Recipient string `json:"recipient"`
	External  bool   `json:"external,omitempty"`
	Payment   string `json:"payment,omitempty"`
	TxHash    string `json:"txHash,omitempty"`
	Bridged   bool   `json:"bridged,omitempty"`
	BridgeErr string `json:"bridgeError,omitempty"`
	Error     string `json:"error,omitempty"`
}

// AssetFailureInfo 附加资产失败的输出格式
type AssetFailureInfo struct {
	Asset string `json:"asset"`
	Error string `json:"error"`
}

// NewSendReport 转换发送结果
func NewSendReport(r *settlement.SendResult) SendReport {
	out := SendReport{
		Outcome:        r.Outcome(),
		Tally:          r.Tally,
		Recipients:     make([]RecipientReport, 0, len(r.Recipients)),
		ClaimCode:      claim.FormatCode(r.ClaimCode),
		ClaimStored:    r.ClaimStored,
		Direct:         r.IsDirect,
		ContentAddress: r.ContentAddress,
		Locator:        locatorHex(r.Locator),
	}
	for _, rr := range r.Recipients {
		rep := RecipientReport{Recipient: rr.Recipient, External: rr.IsExternal, Bridged: rr.Bridged}
		if rr.Payment != nil && rr.Payment.Sign() > 0 {
			rep.Payment = rr.Payment.String()
		}
		if rr.Write != nil {
			rep.TxHash = rr.Write.TxHash
		}
		if rr.BridgeErr != nil {
			rep.BridgeErr = rr.BridgeErr.Error()
		}
		if rr.Err != nil {
			rep.Error = rr.Err.Error()
		}
		out.Recipients = append(out.Recipients, rep)
	}
	for _, f := range r.AssetFailures {
		out.AssetFailures = append(out.AssetFailures, AssetFailureInfo{Asset: f.Asset.Label(), Error: f.Err.Error()})
	}
	return out
}

// MailboxReport 邮箱的输出格式
type MailboxReport struct {
	Owner        string                `json:"owner"`
	RefreshedAt  time.Time             `json:"refreshedAt"`
	Placeholders int                   `json:"placeholders"`
	Entries      []domain.MailboxEntry `json:"entries"`
}

// NewMailboxReport 转换邮箱视图
func NewMailboxReport(box *reconcile.Mailbox, entries []domain.MailboxEntry) MailboxReport {
	return MailboxReport{
		Owner:        box.Owner,
		RefreshedAt:  box.RefreshedAt,
		Placeholders: box.Placeholders,
		Entries:      entries,
	}
}

// ValidationReport 领取码校验的输出格式
type ValidationReport struct {
	Valid     bool           `json:"valid"`
	Reason    string         `json:"reason,omitempty"`
	Recipient string         `json:"recipient,omitempty"`
	Assets    []domain.Asset `json:"assets,omitempty"`
}

// NewValidationReport 转换校验结果
func NewValidationReport(v claim.Validation) ValidationReport {
	out := ValidationReport{Valid: v.Valid, Reason: string(v.Reason)}
	if v.Record != nil {
		out.Recipient = v.Record.Recipient
		out.Assets = v.Record.Assets
	}
	return out
}

// RedeemReport 兑换结果的输出格式
type RedeemReport struct {
	Outcome       string `json:"outcome"`
	WalletAddress string `json:"walletAddress,omitempty"`
	DeploymentTx  string `json:"deploymentTx,omitempty"`
}

// NewRedeemReport 转换兑换结果
func NewRedeemReport(r claim.RedeemResult) RedeemReport {
	out := RedeemReport{Outcome: string(r.Outcome), WalletAddress: r.WalletAddress}
	if r.Deployment != nil {
		out.DeploymentTx = r.Deployment.TxHash
	}
	return out
}
