package contracts

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Registry keys of the protocol contracts.
const (
	LoanManagerKey       = "diaspore/loan-manager:1.0.0"
	InstallmentsModelKey = "diaspore/installments-model:1.0.0"
	DebtEngineKey        = "diaspore/debt-engine:1.0.0"
	TokenKey             = "rcn/token:1.0.0"
	OracleKey            = "ripio/oracle:1.0.0"
)

const LoanManagerABI = `[
  {"type":"function","name":"getBorrower","stateMutability":"view","inputs":[{"name":"id","type":"bytes32"}],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"getCreator","stateMutability":"view","inputs":[{"name":"id","type":"bytes32"}],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"getOracle","stateMutability":"view","inputs":[{"name":"id","type":"bytes32"}],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"getCurrency","stateMutability":"view","inputs":[{"name":"id","type":"bytes32"}],"outputs":[{"name":"","type":"bytes32"}]},
  {"type":"function","name":"getAmount","stateMutability":"view","inputs":[{"name":"id","type":"bytes32"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getExpirationRequest","stateMutability":"view","inputs":[{"name":"id","type":"bytes32"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getApproved","stateMutability":"view","inputs":[{"name":"id","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"getDueTime","stateMutability":"view","inputs":[{"name":"id","type":"bytes32"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getClosingObligation","stateMutability":"view","inputs":[{"name":"id","type":"bytes32"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getLoanData","stateMutability":"view","inputs":[{"name":"id","type":"bytes32"}],"outputs":[{"name":"","type":"bytes"}]},
  {"type":"function","name":"getStatus","stateMutability":"view","inputs":[{"name":"id","type":"bytes32"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"calcId","stateMutability":"view","inputs":[
    {"name":"amount","type":"uint128"},{"name":"borrower","type":"address"},{"name":"creator","type":"address"},
    {"name":"model","type":"address"},{"name":"oracle","type":"address"},{"name":"salt","type":"uint256"},
    {"name":"expiration","type":"uint64"},{"name":"data","type":"bytes"}],"outputs":[{"name":"","type":"bytes32"}]},
  {"type":"function","name":"requestLoan","stateMutability":"nonpayable","inputs":[
    {"name":"amount","type":"uint128"},{"name":"model","type":"address"},{"name":"oracle","type":"address"},
    {"name":"borrower","type":"address"},{"name":"salt","type":"uint256"},{"name":"expiration","type":"uint64"},
    {"name":"loanData","type":"bytes"}],"outputs":[{"name":"id","type":"bytes32"}]},
  {"type":"function","name":"approveRequest","stateMutability":"nonpayable","inputs":[{"name":"id","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"registerApproveRequest","stateMutability":"nonpayable","inputs":[{"name":"id","type":"bytes32"},{"name":"signature","type":"bytes"}],"outputs":[{"name":"approved","type":"bool"}]},
  {"type":"function","name":"lend","stateMutability":"nonpayable","inputs":[
    {"name":"id","type":"bytes32"},{"name":"oracleData","type":"bytes"},{"name":"cosigner","type":"address"},
    {"name":"cosignerLimit","type":"uint256"},{"name":"cosignerData","type":"bytes"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"cancel","stateMutability":"nonpayable","inputs":[{"name":"id","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"event","name":"Requested","anonymous":false,"inputs":[
    {"name":"id","type":"bytes32","indexed":true},{"name":"amount","type":"uint128","indexed":false},
    {"name":"model","type":"address","indexed":false},{"name":"creator","type":"address","indexed":false},
    {"name":"oracle","type":"address","indexed":false},{"name":"borrower","type":"address","indexed":false},
    {"name":"salt","type":"uint256","indexed":false},{"name":"loanData","type":"bytes","indexed":false},
    {"name":"expiration","type":"uint256","indexed":false}]},
  {"type":"event","name":"Approved","anonymous":false,"inputs":[{"name":"id","type":"bytes32","indexed":true}]},
  {"type":"event","name":"Lent","anonymous":false,"inputs":[
    {"name":"id","type":"bytes32","indexed":true},{"name":"lender","type":"address","indexed":false},
    {"name":"tokens","type":"uint256","indexed":false}]},
  {"type":"event","name":"Canceled","anonymous":false,"inputs":[
    {"name":"id","type":"bytes32","indexed":true},{"name":"canceler","type":"address","indexed":false}]}
]`

const DebtEngineABI = `[
  {"type":"function","name":"pay","stateMutability":"nonpayable","inputs":[
    {"name":"id","type":"bytes32"},{"name":"amount","type":"uint256"},{"name":"origin","type":"address"},
    {"name":"oracleData","type":"bytes"}],"outputs":[{"name":"paid","type":"uint256"},{"name":"paidToken","type":"uint256"}]},
  {"type":"function","name":"payToken","stateMutability":"nonpayable","inputs":[
    {"name":"id","type":"bytes32"},{"name":"amount","type":"uint256"},{"name":"origin","type":"address"},
    {"name":"oracleData","type":"bytes"}],"outputs":[{"name":"paid","type":"uint256"},{"name":"paidToken","type":"uint256"}]},
  {"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[{"name":"id","type":"bytes32"},{"name":"to","type":"address"}],"outputs":[{"name":"amount","type":"uint256"}]},
  {"type":"function","name":"withdrawPartial","stateMutability":"nonpayable","inputs":[
    {"name":"id","type":"bytes32"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"withdrawBatch","stateMutability":"nonpayable","inputs":[{"name":"ids","type":"bytes32[]"},{"name":"to","type":"address"}],"outputs":[{"name":"total","type":"uint256"}]},
  {"type":"event","name":"Paid","anonymous":false,"inputs":[
    {"name":"id","type":"bytes32","indexed":true},{"name":"sender","type":"address","indexed":false},
    {"name":"origin","type":"address","indexed":false},{"name":"requested","type":"uint256","indexed":false},
    {"name":"requestedTokens","type":"uint256","indexed":false},{"name":"paid","type":"uint256","indexed":false},
    {"name":"tokens","type":"uint256","indexed":false}]},
  {"type":"event","name":"Withdrawn","anonymous":false,"inputs":[
    {"name":"id","type":"bytes32","indexed":true},{"name":"sender","type":"address","indexed":false},
    {"name":"to","type":"address","indexed":false},{"name":"amount","type":"uint256","indexed":false}]}
]`

const InstallmentsModelABI = `[
  {"type":"function","name":"encodeData","stateMutability":"pure","inputs":[
    {"name":"cuota","type":"uint128"},{"name":"interestRate","type":"uint256"},{"name":"installments","type":"uint24"},
    {"name":"duration","type":"uint40"},{"name":"timeUnit","type":"uint32"}],"outputs":[{"name":"","type":"bytes"}]},
  {"type":"function","name":"validate","stateMutability":"view","inputs":[{"name":"data","type":"bytes"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"create","stateMutability":"nonpayable","inputs":[{"name":"id","type":"bytes32"},{"name":"data","type":"bytes"}],"outputs":[{"name":"","type":"bool"}]}
]`

const RegistryABI = `[
  {"type":"function","name":"getAddress","stateMutability":"view","inputs":[{"name":"name","type":"string"}],"outputs":[{"name":"","type":"address"}]}
]`

const TokenABI = `[
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"increaseApproval","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"addedValue","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"event","name":"Transfer","anonymous":false,"inputs":[
    {"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},{"name":"value","type":"uint256","indexed":false}]},
  {"type":"event","name":"Approval","anonymous":false,"inputs":[
    {"name":"owner","type":"address","indexed":true},{"name":"spender","type":"address","indexed":true},{"name":"value","type":"uint256","indexed":false}]}
]`

// Parsed ABIs, ready for packing call data and decoding logs.
var (
	LoanManagerParsed       = mustParse(LoanManagerABI)
	DebtEngineParsed        = mustParse(DebtEngineABI)
	InstallmentsModelParsed = mustParse(InstallmentsModelABI)
	RegistryParsed          = mustParse(RegistryABI)
	TokenParsed             = mustParse(TokenABI)
)

func mustParse(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("contracts: parse abi: " + err.Error())
	}
	return parsed
}
