package config

import "fmt"

// ICSConfig names the product identity stamped as PRODID on every
// iTIP envelope and annotated calendar object this server emits.
type ICSConfig struct {
	CompanyName string
	ProductName string
	Version     string
	Language    string
}

// BuildProdID renders the RFC 5545 PRODID value, omitting the version
// segment when none is configured.
func (cfg *ICSConfig) BuildProdID() string {
	company := cfg.CompanyName
	if company == "" {
		company = "calfed"
	}
	product := cfg.ProductName
	if product == "" {
		product = "itipd"
	}
	if cfg.Version != "" {
		return fmt.Sprintf("-//%s//%s %s//%s",
			company, product, cfg.Version, cfg.Language)
	}
	return fmt.Sprintf("-//%s//%s//%s",
		company, product, cfg.Language)
}
