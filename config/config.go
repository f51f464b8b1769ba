/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

// Package config loads and validates the YAML description of one tunnel
// interface and programs a device from it.
package config

import (
	"bytes"
	"fmt"
	"io"
	"net/netip"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nordwire/wgcore/device"
)

// Config describes one interface.
type Config struct {
	PrivateKey string       `yaml:"private_key"`
	ListenPort uint16       `yaml:"listen_port,omitempty"`
	Peers      []PeerConfig `yaml:"peers,omitempty"`
}

// PeerConfig describes one peer of the interface.
type PeerConfig struct {
	PublicKey           string   `yaml:"public_key"`
	PresharedKey        string   `yaml:"preshared_key,omitempty"`
	Endpoint            string   `yaml:"endpoint,omitempty"`
	AllowedIPs          []string `yaml:"allowed_ips,omitempty"`
	PersistentKeepalive uint16   `yaml:"persistent_keepalive,omitempty"`
}

// Load reads a Config from YAML and validates it.
func Load(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile reads a Config from a file.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

// Marshal serializes the Config back to YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate checks key lengths, addresses and limits without touching a
// device.
func (c *Config) Validate() error {
	var sk device.NoisePrivateKey
	if err := sk.FromBase64(c.PrivateKey); err != nil {
		return fmt.Errorf("private_key: %w", err)
	}

	if len(c.Peers) > device.MaxPeers {
		return fmt.Errorf("too many peers: %d > %d", len(c.Peers), device.MaxPeers)
	}

	for i, p := range c.Peers {
		var pk device.NoisePublicKey
		if err := pk.FromBase64(p.PublicKey); err != nil {
			return fmt.Errorf("peers[%d].public_key: %w", i, err)
		}
		if p.PresharedKey != "" {
			var psk device.NoisePresharedKey
			if err := psk.FromBase64(p.PresharedKey); err != nil {
				return fmt.Errorf("peers[%d].preshared_key: %w", i, err)
			}
		}
		if p.Endpoint != "" {
			if _, err := netip.ParseAddrPort(p.Endpoint); err != nil {
				return fmt.Errorf("peers[%d].endpoint: %w", i, err)
			}
		}
		if len(p.AllowedIPs) > device.MaxAllowedIPs {
			return fmt.Errorf("peers[%d]: too many allowed_ips: %d > %d",
				i, len(p.AllowedIPs), device.MaxAllowedIPs)
		}
		for _, cidr := range p.AllowedIPs {
			if _, err := netip.ParsePrefix(cidr); err != nil {
				return fmt.Errorf("peers[%d].allowed_ips: %w", i, err)
			}
		}
		if p.PersistentKeepalive > device.KeepaliveTimeout {
			return fmt.Errorf("peers[%d].persistent_keepalive: %d exceeds %d seconds",
				i, p.PersistentKeepalive, device.KeepaliveTimeout)
		}
	}
	return nil
}

// Apply programs a device: interface identity first, then each peer.
func (c *Config) Apply(dev *device.Device) error {
	if err := c.Validate(); err != nil {
		return err
	}

	var sk device.NoisePrivateKey
	if err := sk.FromBase64(c.PrivateKey); err != nil {
		return err
	}
	if err := dev.SetPrivateKey(sk); err != nil {
		return err
	}

	for i, p := range c.Peers {
		var cfg device.PeerConfig
		if err := cfg.PublicKey.FromBase64(p.PublicKey); err != nil {
			return err
		}
		if p.PresharedKey != "" {
			if err := cfg.PresharedKey.FromBase64(p.PresharedKey); err != nil {
				return err
			}
		}
		if p.Endpoint != "" {
			ep, err := netip.ParseAddrPort(p.Endpoint)
			if err != nil {
				return err
			}
			cfg.Endpoint = ep
		}
		for _, cidr := range p.AllowedIPs {
			prefix, err := netip.ParsePrefix(cidr)
			if err != nil {
				return err
			}
			cfg.AllowedIPs = append(cfg.AllowedIPs, prefix)
		}
		cfg.KeepaliveInterval = p.PersistentKeepalive

		if _, err := dev.AddPeer(cfg); err != nil {
			return fmt.Errorf("peers[%d]: %w", i, err)
		}
	}
	return nil
}
