package cli

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgermail/backend/internal/bridge"
	"ledgermail/backend/internal/claim"
	"ledgermail/backend/internal/domain"
	"ledgermail/backend/internal/ledger"
	"ledgermail/backend/internal/settlement"
)

func TestParseAsset(t *testing.T) {
	const token = "0x00000000000000000000000000000000000000b2"

	tests := []struct {
		name    string
		input   string
		want    domain.Asset
		wantErr bool
	}{
		{name: "原生币", input: "native:0.5", want: domain.Asset{Type: domain.AssetNative, Amount: "0.5"}},
		{name: "代币", input: "erc20:" + token + ":10", want: domain.Asset{Type: domain.AssetERC20, TokenAddress: token, Amount: "10"}},
		{name: "代币带小数位和符号", input: "erc20:" + token + ":1.25:6:USDC", want: domain.Asset{Type: domain.AssetERC20, TokenAddress: token, Amount: "1.25", Decimals: domain.Decimals(6), Symbol: "USDC"}},
		{name: "NFT", input: "erc721:" + token + ":42:PUNK", want: domain.Asset{Type: domain.AssetERC721, TokenAddress: token, TokenID: "42", Symbol: "PUNK"}},
		{name: "零小数位代币", input: "erc20:" + token + ":5:0", want: domain.Asset{Type: domain.AssetERC20, TokenAddress: token, Amount: "5", Decimals: domain.Decimals(0)}},
		{name: "类型大小写不敏感", input: "NATIVE:1", want: domain.Asset{Type: domain.AssetNative, Amount: "1"}},
		{name: "缺少金额", input: "native:", wantErr: true},
		{name: "小数位无效", input: "erc20:" + token + ":1:x", wantErr: true},
		{name: "未知类型", input: "erc1155:" + token + ":1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAsset(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type recordingSender struct {
	reqs []settlement.SendRequest
	err  error
}

func (s *recordingSender) Send(_ context.Context, req settlement.SendRequest) (*settlement.SendResult, error) {
	s.reqs = append(s.reqs, req)
	return &settlement.SendResult{}, s.err
}

func TestInboundHandler(t *testing.T) {
	t.Run("转为原生收件人并保留来源", func(t *testing.T) {
		sender := &recordingSender{}
		err := InboundHandler(sender)(context.Background(), bridge.Envelope{
			To:      "bob@ledger.mail",
			From:    "carol@example.org",
			Subject: "Hello",
			Text:    "hi bob",
			HTML:    "<p>hi bob</p>",
		})
		require.NoError(t, err)
		require.Len(t, sender.reqs, 1)

		req := sender.reqs[0]
		assert.Equal(t, []string{"bob"}, req.Recipients)
		assert.Equal(t, "Hello", req.Subject)
		assert.Equal(t, "From: carol@example.org\n\nhi bob", req.Body)
		assert.Equal(t, "<p>hi bob</p>", req.HTMLBody)
	})

	t.Run("发送失败时返回错误", func(t *testing.T) {
		sender := &recordingSender{err: settlement.ErrIndexFailed}
		err := InboundHandler(sender)(context.Background(), bridge.Envelope{To: "bob@ledger.mail", Text: "x"})
		assert.ErrorIs(t, err, settlement.ErrIndexFailed)
	})
}

func TestNewSendReport(t *testing.T) {
	result := &settlement.SendResult{
		Tally: settlement.Tally{Attempted: 2, Succeeded: 1, Failed: 1},
		Recipients: []settlement.RecipientResult{
			{Recipient: "bob", Payment: big.NewInt(5), Write: &ledger.WriteRef{TxHash: "0xabc"}},
			{Recipient: "dave", Err: errors.New("index write failed")},
		},
		AssetFailures: []settlement.AssetFailure{
			{Asset: domain.Asset{Type: domain.AssetNative, Amount: "1"}, Err: errors.New("reverted")},
		},
		ClaimCode: "123456",
	}

	report := NewSendReport(result)
	assert.Equal(t, "partial", report.Outcome)
	assert.Equal(t, "123 456", report.ClaimCode)
	assert.Empty(t, report.Locator)
	require.Len(t, report.Recipients, 2)
	assert.Equal(t, "5", report.Recipients[0].Payment)
	assert.Equal(t, "0xabc", report.Recipients[0].TxHash)
	assert.Equal(t, "index write failed", report.Recipients[1].Error)
	require.Len(t, report.AssetFailures, 1)
	assert.Equal(t, "1 ETH", report.AssetFailures[0].Asset)
}

func TestNewRedeemReport(t *testing.T) {
	report := NewRedeemReport(claim.RedeemResult{
		Outcome:       claim.OutcomeRedeemed,
		WalletAddress: "0xwallet",
		Deployment:    &ledger.WriteRef{TxHash: "0xdeploy"},
	})
	assert.Equal(t, RedeemReport{Outcome: "redeemed", WalletAddress: "0xwallet", DeploymentTx: "0xdeploy"}, report)
}

func TestRootCommand(t *testing.T) {
	t.Run("注册全部子命令", func(t *testing.T) {
		root := NewRootCommand()
		names := make([]string, 0)
		for _, c := range root.Commands() {
			names = append(names, c.Name())
		}
		assert.Subset(t, names, []string{"send", "inbox", "status", "claim", "relay", "migrate"})
	})

	t.Run("资产格式错误时不打开会话", func(t *testing.T) {
		root := NewRootCommand()
		root.SetOut(new(bytes.Buffer))
		root.SetArgs([]string{"send", "--to", "bob", "--body", "hi", "--asset", "gold:1"})
		assert.ErrorContains(t, root.Execute(), "unsupported asset type")
	})

	t.Run("状态命令需要邮件ID", func(t *testing.T) {
		root := NewRootCommand()
		root.SetOut(new(bytes.Buffer))
		root.SetErr(new(bytes.Buffer))
		root.SetArgs([]string{"status"})
		assert.Error(t, root.Execute())
	})
}
