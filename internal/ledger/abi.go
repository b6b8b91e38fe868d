package ledger

// mailContractABI 邮件合约的调用接口
const mailContractABI = `[
  {"type":"function","name":"indexMessage","stateMutability":"payable",
   "inputs":[{"name":"locator","type":"bytes32"},{"name":"recipient","type":"string"},{"name":"originalSender","type":"string"},{"name":"isExternal","type":"bool"},{"name":"hasTransfer","type":"bool"}],
   "outputs":[{"name":"id","type":"uint256"}]},
  {"type":"function","name":"attachTransfer","stateMutability":"payable",
   "inputs":[{"name":"locator","type":"bytes32"},{"name":"recipient","type":"string"},{"name":"isExternal","type":"bool"},{"name":"token","type":"address"},{"name":"amount","type":"uint256"},{"name":"isNFT","type":"bool"}],
   "outputs":[]},
  {"type":"function","name":"getInbox","stateMutability":"view",
   "inputs":[{"name":"identity","type":"string"}],
   "outputs":[{"name":"ids","type":"uint256[]"}]},
  {"type":"function","name":"getSent","stateMutability":"view",
   "inputs":[{"name":"identity","type":"string"}],
   "outputs":[{"name":"ids","type":"uint256[]"}]},
  {"type":"function","name":"getMessage","stateMutability":"view",
   "inputs":[{"name":"id","type":"uint256"}],
   "outputs":[{"name":"locator","type":"bytes32"},{"name":"sender","type":"string"},{"name":"recipient","type":"string"},{"name":"isExternal","type":"bool"},{"name":"hasTransfer","type":"bool"},{"name":"isSpam","type":"bool"},{"name":"timestamp","type":"uint256"}]},
  {"type":"function","name":"isRecipientProvisioned","stateMutability":"view",
   "inputs":[{"name":"identity","type":"string"}],
   "outputs":[{"name":"registered","type":"bool"},{"name":"deployed","type":"bool"}]},
  {"type":"function","name":"getContactFee","stateMutability":"view",
   "inputs":[{"name":"identity","type":"string"}],
   "outputs":[{"name":"fee","type":"uint256"}]},
  {"type":"function","name":"isWhitelisted","stateMutability":"view",
   "inputs":[{"name":"identity","type":"string"},{"name":"counterparty","type":"string"}],
   "outputs":[{"name":"whitelisted","type":"bool"}]},
  {"type":"function","name":"deployWallet","stateMutability":"nonpayable",
   "inputs":[{"name":"identity","type":"string"}],
   "outputs":[{"name":"wallet","type":"address"}]},
  {"type":"function","name":"computeWalletAddress","stateMutability":"view",
   "inputs":[{"name":"identity","type":"string"}],
   "outputs":[{"name":"wallet","type":"address"}]},
  {"type":"function","name":"resolveIdentity","stateMutability":"view",
   "inputs":[{"name":"wallet","type":"address"}],
   "outputs":[{"name":"identity","type":"string"}]},
  {"type":"event","name":"MailSent","anonymous":false,
   "inputs":[{"name":"id","type":"uint256","indexed":true},{"name":"sender","type":"address","indexed":true},{"name":"recipient","type":"string","indexed":false}]}
]`

// erc20ABI 代币授权相关的最小接口
const erc20ABI = `[
  {"type":"function","name":"allowance","stateMutability":"view",
   "inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"approve","stateMutability":"nonpayable",
   "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]}
]`

// 合约方法名
const (
	methodIndexMessage           = "indexMessage"
	methodAttachTransfer         = "attachTransfer"
	methodGetInbox               = "getInbox"
	methodGetSent                = "getSent"
	methodGetMessage             = "getMessage"
	methodIsRecipientProvisioned = "isRecipientProvisioned"
	methodGetContactFee          = "getContactFee"
	methodIsWhitelisted          = "isWhitelisted"
	methodDeployWallet           = "deployWallet"
	methodComputeWalletAddress   = "computeWalletAddress"
	methodResolveIdentity        = "resolveIdentity"

	eventMailSent = "MailSent"
)
