package mechfile

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DefaultShareName is the share name of the default shared folder.
const DefaultShareName = "mech"

// DefaultHostPath is the host side of the default shared folder, relative to
// the instance directory (<project>/.mech/<name>).
const DefaultHostPath = "../.."

// SharedFolder maps a host directory into the guest.
type SharedFolder struct {
	HostPath  string `json:"host_path"`
	ShareName string `json:"share_name"`
}

// DefaultSharedFolders returns the folder list used when none is given:
// the project directory shared as "mech".
func DefaultSharedFolders() []SharedFolder {
	return []SharedFolder{{HostPath: DefaultHostPath, ShareName: DefaultShareName}}
}

// Auth describes the key material injected into a guest.
type Auth struct {
	Username string `json:"username"`
	// PubKey is the path to the public key on the host.
	PubKey string `json:"pub_key"`
	// MechUse also trusts the key for mech's own SSH access.
	MechUse bool `json:"mech_use"`
}

// ProvisionStep is one entry of an instance's provisioning list.
// Type selects the variant: "file" uses Source/Destination, "shell" uses
// either Path (with optional Args) or Inline.
type ProvisionStep struct {
	Type        string   `json:"type" yaml:"type"`
	Source      string   `json:"source,omitempty" yaml:"source,omitempty"`
	Destination string   `json:"destination,omitempty" yaml:"destination,omitempty"`
	Path        string   `json:"path,omitempty" yaml:"path,omitempty"`
	Args        []string `json:"args,omitempty" yaml:"args,omitempty"`
	Inline      string   `json:"inline,omitempty" yaml:"inline,omitempty"`
}

// Entry is one named instance in the Mechfile.
//
// Box, BoxVersion, Name and URL are nullable and always serialized (as null
// when unset). Keys the tool does not know about are kept in Extra and
// written back unchanged.
type Entry struct {
	Name          *string
	Box           *string
	BoxVersion    *string
	URL           *string
	SharedFolders []SharedFolder
	Auth          *Auth
	Provision     []ProvisionStep
	User          string
	Password      string
	UsePSK        bool
	CPUs          *int
	MemSize       *int

	Extra map[string]json.RawMessage
}

const (
	keyName          = "name"
	keyBox           = "box"
	keyBoxVersion    = "box_version"
	keyURL           = "url"
	keySharedFolders = "shared_folders"
	keyAuth          = "auth"
	keyProvision     = "provision"
	keyUser          = "user"
	keyPassword      = "password"
	keyUsePSK        = "use_psk"
	keyCPUs          = "cpus"
	keyMemSize       = "memsize"
)

// IsZero reports whether e is the empty entry, the "nothing to persist"
// result of resolving no location.
func (e Entry) IsZero() bool {
	return e.Name == nil && e.Box == nil && e.BoxVersion == nil && e.URL == nil &&
		e.SharedFolders == nil && e.Auth == nil && e.Provision == nil &&
		e.User == "" && e.Password == "" && !e.UsePSK &&
		e.CPUs == nil && e.MemSize == nil && len(e.Extra) == 0
}

// NameOrEmpty returns the entry name, or "" when unset.
func (e Entry) NameOrEmpty() string {
	return deref(e.Name)
}

// BoxOrEmpty returns the box reference, or "" when unset.
func (e Entry) BoxOrEmpty() string {
	return deref(e.Box)
}

// BoxVersionOrEmpty returns the box version, or "" when unset.
func (e Entry) BoxVersionOrEmpty() string {
	return deref(e.BoxVersion)
}

// URLOrEmpty returns the download URL, or "" when unset.
func (e Entry) URLOrEmpty() string {
	return deref(e.URL)
}

// MarshalJSON writes the entry as an object. encoding/json sorts map keys,
// which gives the Mechfile its stable key order.
func (e Entry) MarshalJSON() ([]byte, error) {
	if e.IsZero() {
		return []byte("{}"), nil
	}

	m := make(map[string]any, len(e.Extra)+12)
	for k, v := range e.Extra {
		m[k] = v
	}

	m[keyName] = e.Name
	m[keyBox] = e.Box
	m[keyBoxVersion] = e.BoxVersion
	m[keyURL] = e.URL

	if e.SharedFolders != nil {
		m[keySharedFolders] = e.SharedFolders
	}
	if e.Auth != nil {
		m[keyAuth] = e.Auth
	}
	if e.Provision != nil {
		m[keyProvision] = e.Provision
	}
	if e.User != "" {
		m[keyUser] = e.User
	}
	if e.Password != "" {
		m[keyPassword] = e.Password
	}
	if e.UsePSK {
		m[keyUsePSK] = e.UsePSK
	}
	if e.CPUs != nil {
		m[keyCPUs] = e.CPUs
	}
	if e.MemSize != nil {
		m[keyMemSize] = e.MemSize
	}

	return encode(m, "")
}

// UnmarshalJSON reads known keys into fields and keeps the rest in Extra.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*e = Entry{}

	fields := []struct {
		key string
		dst any
	}{
		{keyName, &e.Name},
		{keyBox, &e.Box},
		{keyBoxVersion, &e.BoxVersion},
		{keyURL, &e.URL},
		{keySharedFolders, &e.SharedFolders},
		{keyAuth, &e.Auth},
		{keyProvision, &e.Provision},
		{keyUser, &e.User},
		{keyPassword, &e.Password},
		{keyUsePSK, &e.UsePSK},
		{keyCPUs, &e.CPUs},
		{keyMemSize, &e.MemSize},
	}

	for _, f := range fields {
		v, ok := raw[f.key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(v, f.dst); err != nil {
			return fmt.Errorf("invalid %q: %w", f.key, err)
		}
		delete(raw, f.key)
	}

	if len(raw) > 0 {
		e.Extra = raw
	}

	return nil
}

// encode marshals v without HTML escaping so URLs keep their '&'.
func encode(v any, indent string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
