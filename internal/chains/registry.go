package chains

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

type Chain struct {
	Slug    string
	ChainID int64
	EVM     bool
}

type Token struct {
	Symbol   string
	Address  string
	Decimals int
}

var chains = map[string]Chain{
	"ethereum": {Slug: "ethereum", ChainID: 1, EVM: true},
	"arbitrum": {Slug: "arbitrum", ChainID: 42161, EVM: true},
	"optimism": {Slug: "optimism", ChainID: 10, EVM: true},
	"base":     {Slug: "base", ChainID: 8453, EVM: true},
	"polygon":  {Slug: "polygon", ChainID: 137, EVM: true},
	"solana":   {Slug: "solana", ChainID: 501, EVM: false},
}

var aliases = map[string]string{
	"eth":          "ethereum",
	"mainnet":      "ethereum",
	"arbitrum one": "arbitrum",
	"arb":          "arbitrum",
	"op":           "optimism",
	"op mainnet":   "optimism",
	"matic":        "polygon",
	"sol":          "solana",
}

// Fusion-capable EVM chains.
var fusionEVM = map[string]struct{}{
	"ethereum": {},
	"arbitrum": {},
	"optimism": {},
	"base":     {},
}

var tokens = map[string]map[string]Token{
	"ethereum": {
		"WETH": {Symbol: "WETH", Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Decimals: 18},
		"USDC": {Symbol: "USDC", Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: 6},
		"USDT": {Symbol: "USDT", Address: "0xdAC17F958D2ee523a2206206994597C13D831ec7", Decimals: 6},
		"WBTC": {Symbol: "WBTC", Address: "0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599", Decimals: 8},
		"DAI":  {Symbol: "DAI", Address: "0x6B175474E89094C44Da98b954EedeAC495271d0F", Decimals: 18},
	},
	"arbitrum": {
		"USDC": {Symbol: "USDC", Address: "0xaf88d065e77c8cC2239327C5EDb3A432268e5831", Decimals: 6},
		"WETH": {Symbol: "WETH", Address: "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1", Decimals: 18},
		"USDT": {Symbol: "USDT", Address: "0xFd086bC7CD5C481DCC9C85ebE478A1C0b69FCbb9", Decimals: 6},
	},
	"optimism": {
		"USDC": {Symbol: "USDC", Address: "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85", Decimals: 6},
		"USDT": {Symbol: "USDT", Address: "0x94b008aA00579c1307B0EF2c499aD98a8ce58e58", Decimals: 6},
		"WETH": {Symbol: "WETH", Address: "0x4200000000000000000000000000000000000006", Decimals: 18},
	},
	"base": {
		"USDC": {Symbol: "USDC", Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Decimals: 6},
		"USDT": {Symbol: "USDT", Address: "0xfde4C96c8593536E31F229EA8f37b2ADa2699bb2", Decimals: 6},
		"WETH": {Symbol: "WETH", Address: "0x4200000000000000000000000000000000000006", Decimals: 18},
	},
	"polygon": {
		"USDC": {Symbol: "USDC", Address: "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359", Decimals: 6},
		"WETH": {Symbol: "WETH", Address: "0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619", Decimals: 18},
	},
	"solana": {
		"USDC": {Symbol: "USDC", Address: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Decimals: 6},
		"SOL":  {Symbol: "SOL", Address: "So11111111111111111111111111111111111111112", Decimals: 9},
	},
}

// Normalize maps free-form chain names ("Arbitrum One", "ETH") to registry slugs.
// Unknown names are lower-cased and returned as-is.
func Normalize(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	if alias, ok := aliases[slug]; ok {
		return alias
	}
	return slug
}

func Lookup(name string) (Chain, bool) {
	chain, ok := chains[Normalize(name)]
	return chain, ok
}

func IsSolana(name string) bool {
	return Normalize(name) == "solana"
}

func IsFusionEVM(name string) bool {
	_, ok := fusionEVM[Normalize(name)]
	return ok
}

func TokenOn(chain, symbol string) (Token, bool) {
	byChain, ok := tokens[Normalize(chain)]
	if !ok {
		return Token{}, false
	}
	tok, ok := byChain[strings.ToUpper(strings.TrimSpace(symbol))]
	return tok, ok
}

// Decimals falls back to 18 for unknown tokens, matching most ERC-20s.
func Decimals(chain, symbol string) int {
	if tok, ok := TokenOn(chain, symbol); ok {
		return tok.Decimals
	}
	return 18
}

// SymbolForAddress resolves an on-chain asset address to its symbol.
// EVM addresses are compared case-insensitively through their checksum form.
func SymbolForAddress(chain, address string) (string, bool) {
	byChain, ok := tokens[Normalize(chain)]
	if !ok {
		return "", false
	}
	address = strings.TrimSpace(address)
	if common.IsHexAddress(address) {
		want := common.HexToAddress(address)
		for _, tok := range byChain {
			if common.IsHexAddress(tok.Address) && common.HexToAddress(tok.Address) == want {
				return tok.Symbol, true
			}
		}
		return "", false
	}
	for _, tok := range byChain {
		if tok.Address == address {
			return tok.Symbol, true
		}
	}
	return "", false
}

// ValidAddress reports whether s is a well-formed EVM address.
func ValidAddress(s string) bool {
	return common.IsHexAddress(strings.TrimSpace(s))
}

// ChecksumAddress returns the EIP-55 form of an EVM address.
func ChecksumAddress(s string) string {
	return common.HexToAddress(strings.TrimSpace(s)).Hex()
}
