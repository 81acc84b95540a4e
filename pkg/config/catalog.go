package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CatalogConfig lists the storyboard topics and narration languages offered to users.
type CatalogConfig struct {
	Topics    []string `yaml:"topics"`
	Languages []string `yaml:"languages"`
}

// DefaultCatalog returns the built-in topics and languages.
func DefaultCatalog() *CatalogConfig {
	return &CatalogConfig{
		Topics:    []string{"Animasi", "Lagu", "Cerita", "Hewan", "Petualangan", "Edukasi"},
		Languages: []string{"Keduanya", "Indonesia", "English"},
	}
}

// LoadCatalog loads the catalog from the given YAML file.
// A missing file yields the built-in catalog; empty lists in the file keep their defaults.
func LoadCatalog(path string) (*CatalogConfig, error) {
	cfg := DefaultCatalog()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog config: %w", err)
	}

	var file CatalogConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog config: %w", err)
	}
	if len(file.Topics) > 0 {
		cfg.Topics = file.Topics
	}
	if len(file.Languages) > 0 {
		cfg.Languages = file.Languages
	}
	return cfg, nil
}

// HasTopic reports whether topic is in the catalog.
func (c *CatalogConfig) HasTopic(topic string) bool {
	return contains(c.Topics, topic)
}

// HasLanguage reports whether lang is in the catalog.
func (c *CatalogConfig) HasLanguage(lang string) bool {
	return contains(c.Languages, lang)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
