package yzma

import (
	"errors"
	"os"
)

// Config holds the native engine configuration.
type Config struct {
	// LibPath is the directory holding the llama.cpp shared libraries.
	// Defaults to $YZMA_LIB, then ./lib.
	LibPath string `yaml:"lib_path"`
	// GPULayers is the number of layers offloaded to a GPU; -1 offloads
	// all of them. Defaults to 0 (CPU only).
	GPULayers int `yaml:"gpu_layers"`
	// Seed fixes the sampler seed. Zero picks a random seed per request.
	Seed uint32 `yaml:"seed"`
}

func (c *Config) defaults() {
	if c.LibPath == "" {
		c.LibPath = os.Getenv("YZMA_LIB")
	}
	if c.LibPath == "" {
		c.LibPath = "./lib"
	}
}

func (c *Config) validate() error {
	if c.GPULayers < -1 {
		return errors.New("engine.yzma: gpu_layers must be -1 or greater")
	}
	return nil
}
