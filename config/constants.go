package config

/* =========================
   NETWORK CONFIGURATION
========================= */

const (
	// Mantle Sepolia Testnet, used as the default chain when
	// CHAIN_RPC_URL/CHAIN_ID are not set in the environment.
	MantleSepoliaRPC = "https://rpc.sepolia.mantle.xyz"
	MantleChainID    = 5003
)
