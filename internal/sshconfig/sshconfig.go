// Package sshconfig builds ssh_config(5) text for reaching a guest and the
// matching golang.org/x/crypto/ssh client configuration.
package sshconfig

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Well-known directive names.
const (
	KeyHost                   = "Host"
	KeyHostName               = "HostName"
	KeyUser                   = "User"
	KeyPort                   = "Port"
	KeyUserKnownHostsFile     = "UserKnownHostsFile"
	KeyStrictHostKeyChecking  = "StrictHostKeyChecking"
	KeyPasswordAuthentication = "PasswordAuthentication"
	KeyIdentityFile           = "IdentityFile"
	KeyIdentitiesOnly         = "IdentitiesOnly"
	KeyLogLevel               = "LogLevel"
)

// DefaultPort is the SSH port used when none is configured.
const DefaultPort = 22

// Option is one directive.
type Option struct {
	Key   string
	Value string
}

// Config is a single Host block. Options keep the order they were set in.
type Config struct {
	Host    string
	Options []Option
}

// Set replaces the value of key, or appends it.
func (c *Config) Set(key, value string) {
	if key == KeyHost {
		c.Host = value
		return
	}
	for i := range c.Options {
		if c.Options[i].Key == key {
			c.Options[i].Value = value
			return
		}
	}
	c.Options = append(c.Options, Option{Key: key, Value: value})
}

// Get returns the value of key.
func (c Config) Get(key string) (string, bool) {
	if key == KeyHost {
		return c.Host, c.Host != ""
	}
	for _, o := range c.Options {
		if o.Key == key {
			return o.Value, true
		}
	}
	return "", false
}

// String renders the block: "Host <name>" followed by one two-space
// indented directive per option.
func (c Config) String() string {
	var b strings.Builder
	b.WriteString("Host ")
	b.WriteString(c.Host)
	b.WriteString("\n")
	for _, o := range c.Options {
		fmt.Fprintf(&b, "  %s %s\n", o.Key, o.Value)
	}
	return b.String()
}

// FromPairs builds a Config from key/value pairs in order. A "Host" pair
// sets the block name wherever it appears.
func FromPairs(pairs ...Option) Config {
	var c Config
	for _, p := range pairs {
		c.Set(p.Key, p.Value)
	}
	return c
}

// Params are the inputs for an instance's SSH settings.
type Params struct {
	Name         string
	HostName     string
	User         string
	Port         int
	IdentityFile string
}

// ForInstance returns the settings mech uses to reach a guest: no host key
// persistence, key-only authentication and quiet logging.
func ForInstance(p Params) Config {
	port := p.Port
	if port == 0 {
		port = DefaultPort
	}

	c := Config{Host: p.Name}
	if p.HostName != "" {
		c.Set(KeyHostName, p.HostName)
	}
	c.Set(KeyUser, p.User)
	c.Set(KeyPort, strconv.Itoa(port))
	c.Set(KeyUserKnownHostsFile, "/dev/null")
	c.Set(KeyStrictHostKeyChecking, "no")
	c.Set(KeyPasswordAuthentication, "no")
	if p.IdentityFile != "" {
		c.Set(KeyIdentityFile, p.IdentityFile)
	}
	c.Set(KeyIdentitiesOnly, "yes")
	c.Set(KeyLogLevel, "FATAL")
	return c
}

// Address is host:port for dialing, using HostName when set.
func (c Config) Address() string {
	host := c.Host
	if v, ok := c.Get(KeyHostName); ok && v != "" {
		host = v
	}
	port := strconv.Itoa(DefaultPort)
	if v, ok := c.Get(KeyPort); ok && v != "" {
		port = v
	}
	return net.JoinHostPort(host, port)
}

// ClientConfig translates the block into an x/crypto/ssh client config.
// The identity file is required. Host keys are verified against
// UserKnownHostsFile only when StrictHostKeyChecking is not "no".
func (c Config) ClientConfig(timeout time.Duration) (*ssh.ClientConfig, error) {
	keyPath, ok := c.Get(KeyIdentityFile)
	if !ok || keyPath == "" {
		return nil, fmt.Errorf("no IdentityFile configured for %s", c.Host)
	}
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("unable to parse private key: %w", err)
	}

	user, _ := c.Get(KeyUser)
	hostKeyCallback, err := c.hostKeyCallback()
	if err != nil {
		return nil, err
	}

	return &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}, nil
}

func (c Config) hostKeyCallback() (ssh.HostKeyCallback, error) {
	strict, _ := c.Get(KeyStrictHostKeyChecking)
	knownHosts, _ := c.Get(KeyUserKnownHostsFile)
	if strings.EqualFold(strict, "no") || knownHosts == "" || knownHosts == "/dev/null" {
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec
	}
	cb, err := knownhosts.New(knownHosts)
	if err != nil {
		return nil, fmt.Errorf("failed to load known hosts %s: %w", knownHosts, err)
	}
	return cb, nil
}
