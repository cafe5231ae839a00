package vmx

import (
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"
)

const (
	// KeyNetworkPresent marks that the first NIC is configured.
	KeyNetworkPresent = "ethernet0.present"

	// KeyCPUs is the virtual CPU count.
	KeyCPUs = "numvcpus"

	// KeyMemory is the memory size in MB.
	KeyMemory = "memsize"

	// MessageNetworkAdded is reported when the default NIC block is inserted.
	MessageNetworkAdded = "Added network interface to vmx file"
)

// networkDefaults is the NIC block inserted into boxes that ship without one.
// Order matters: it is the order the keys are written in.
var networkDefaults = []struct{ key, value string }{
	{"ethernet0.addresstype", "generated"},
	{"ethernet0.bsdname", "en0"},
	{"ethernet0.connectiontype", "nat"},
	{"ethernet0.displayname", "Ethernet"},
	{"ethernet0.linkstatepropagation.enable", "FALSE"},
	{"ethernet0.pcislotnumber", "32"},
	{KeyNetworkPresent, "TRUE"},
	{"ethernet0.virtualdev", "e1000"},
	{"ethernet0.wakeonpcktrcv", "FALSE"},
}

// Resources are the optional CPU and memory overrides applied to a vmx file.
// A nil field leaves the current setting alone.
type Resources struct {
	CPUs     *int
	MemoryMB *int
}

// UpsertNetworkDefaults inserts the default NIC block when the document has
// no ethernet0.present key. It reports whether anything was added.
func UpsertNetworkDefaults(doc *Document) bool {
	if doc.Has(KeyNetworkPresent) {
		return false
	}

	for _, kv := range networkDefaults {
		doc.Set(kv.key, kv.value)
	}
	return true
}

// UpsertResources sets numvcpus and memsize from res.
// It reports whether either value changed.
func UpsertResources(doc *Document, res Resources) bool {
	changed := false
	if res.CPUs != nil {
		changed = doc.Set(KeyCPUs, quote(*res.CPUs)) || changed
	}
	if res.MemoryMB != nil {
		changed = doc.Set(KeyMemory, quote(*res.MemoryMB)) || changed
	}
	return changed
}

// UpdateResult describes what UpdateFile did.
type UpdateResult struct {
	// Written is true when the file was rewritten.
	Written bool
	// Messages holds one human-readable line per reported change.
	Messages []string
}

// UpdateFile applies the network defaults and then res to the vmx file at
// path. The file is rewritten only when at least one change occurred.
func UpdateFile(path string, res Resources, logger *zap.Logger) (UpdateResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return UpdateResult{}, fmt.Errorf("failed to read vmx file %s: %w", path, err)
	}

	doc := Parse(string(data))

	var result UpdateResult
	networkAdded := UpsertNetworkDefaults(doc)
	if networkAdded {
		result.Messages = append(result.Messages, MessageNetworkAdded)
	}
	resourcesChanged := UpsertResources(doc, res)

	if !networkAdded && !resourcesChanged {
		logger.Debug("vmx file already up to date", zap.String("path", path))
		return result, nil
	}

	mode := os.FileMode(0644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	if err := os.WriteFile(path, []byte(doc.String()), mode); err != nil {
		return UpdateResult{}, fmt.Errorf("failed to write vmx file %s: %w", path, err)
	}
	result.Written = true

	logger.Info("updated vmx file",
		zap.String("path", path),
		zap.Bool("network_added", networkAdded),
		zap.Bool("resources_changed", resourcesChanged),
	)

	return result, nil
}

func quote(n int) string {
	return strconv.Quote(strconv.Itoa(n))
}
