package ledger

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const (
	MethodAgentInitiated = "AgentInitiated"
	MethodAgentFinished  = "AgentFinished"
	MethodOwner          = "owner"
	MethodQueries        = "queries"

	EventQueryInitiated = "QueryInitiated"
	EventQueryFinished  = "QueryFinished"
)

// QueryProcessorABI is the ABI of the query processor contract
const QueryProcessorABI = `[
  {"inputs":[],"stateMutability":"nonpayable","type":"constructor"},
  {"anonymous":false,"inputs":[
    {"indexed":true,"internalType":"address","name":"user","type":"address"},
    {"indexed":true,"internalType":"uint256","name":"runId","type":"uint256"}
  ],"name":"QueryFinished","type":"event"},
  {"anonymous":false,"inputs":[
    {"indexed":true,"internalType":"address","name":"user","type":"address"},
    {"indexed":false,"internalType":"string","name":"queryText","type":"string"},
    {"indexed":true,"internalType":"uint256","name":"runId","type":"uint256"}
  ],"name":"QueryInitiated","type":"event"},
  {"inputs":[
    {"internalType":"string","name":"accountId","type":"string"},
    {"internalType":"string","name":"threadId","type":"string"}
  ],"name":"AgentInitiated","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[
    {"internalType":"string","name":"accountId","type":"string"},
    {"internalType":"string","name":"threadId","type":"string"},
    {"internalType":"string","name":"result","type":"string"}
  ],"name":"AgentFinished","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[
    {"internalType":"address","name":"_user","type":"address"},
    {"internalType":"uint256","name":"_runId","type":"uint256"}
  ],"name":"finishQuery","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[],"name":"owner","outputs":[
    {"internalType":"address","name":"","type":"address"}
  ],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"uint256","name":"","type":"uint256"}],"name":"queries","outputs":[
    {"internalType":"address","name":"user","type":"address"},
    {"internalType":"string","name":"queryText","type":"string"},
    {"internalType":"enum QueryProcessor.QueryState","name":"state","type":"uint8"},
    {"internalType":"uint256","name":"runId","type":"uint256"}
  ],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"string","name":"_queryText","type":"string"}],"name":"submitQuery","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

// ParseABI parses QueryProcessorABI
func ParseABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(QueryProcessorABI))
}
