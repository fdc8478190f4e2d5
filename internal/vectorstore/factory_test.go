package vectorstore

import "github.com/othentic-ai/ideationd/internal/config"

func testStoreConfig(provider string) config.StoreConfig {
	return config.StoreConfig{
		Provider:   provider,
		Collection: "test_records",
		MaxRetries: 3,
	}
}
