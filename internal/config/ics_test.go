package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildProdID(t *testing.T) {
	cfg := ICSConfig{CompanyName: "calfed", ProductName: "itipd", Version: "1.0.0", Language: "EN"}
	assert.Equal(t, "-//calfed//itipd 1.0.0//EN", cfg.BuildProdID())

	cfg.Version = ""
	assert.Equal(t, "-//calfed//itipd//EN", cfg.BuildProdID())
}

func TestBuildProdIDDefaults(t *testing.T) {
	cfg := ICSConfig{Language: "EN"}
	assert.Equal(t, "-//calfed//itipd//EN", cfg.BuildProdID())
}
