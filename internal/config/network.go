package config

// Network is a preset of endpoints and on-chain ids for one Sui network.
type Network struct {
	RPCURL        string
	PublisherURL  string
	AggregatorURL string
	PackageID     string
	MarketplaceID string
	KeyServers    []KeyServerRef
}

// Networks lists the known presets. Testnet key servers are not preset:
// they must be configured explicitly, otherwise encryption refuses to run.
var Networks = map[string]Network{
	"testnet": {
		RPCURL:        "https://fullnode.testnet.sui.io:443",
		PublisherURL:  "https://publisher.walrus-testnet.walrus.space",
		AggregatorURL: "https://aggregator.walrus-testnet.walrus.space",
		PackageID:     "0x3cf4a3e7dfa130e6866fcca388b0f1c8c996091522d48b07a0e86ebce263f56b",
		MarketplaceID: "0xc1eacd2027e68c2c25b2ed1bce9d4ebf5974ef3c4829c1d78bf396ec9241ce6b",
	},
	"devnet": {
		RPCURL: "https://fullnode.devnet.sui.io:443",
	},
	"mainnet": {
		RPCURL:        "https://fullnode.mainnet.sui.io:443",
		PublisherURL:  "https://publisher.walrus.space",
		AggregatorURL: "https://aggregator.walrus.space",
	},
	"localnet": {
		RPCURL:        "http://127.0.0.1:9000",
		PublisherURL:  "http://127.0.0.1:31415",
		AggregatorURL: "http://127.0.0.1:31415",
		KeyServers: []KeyServerRef{
			{ObjectID: "0x0000000000000000000000000000000000000000000000000000000000000a11", URL: "http://127.0.0.1:2024"},
		},
	},
}
