package partition

import (
	"strings"

	"github.com/example/partition-rotator/internal/rotatorcfg"
)

// Window is the fixed shape of the materialized range around the as-of date.
type Window struct {
	// RetentionLength is retention_days / task_interval_days.
	RetentionLength int
	Lookahead       int
}

func WindowFrom(p rotatorcfg.PartitionConfig) Window {
	return Window{RetentionLength: p.RetentionLength(), Lookahead: p.LookaheadPartitionCount}
}

// Size is the steady-state non-floor partition count.
func (w Window) Size() int { return w.RetentionLength + w.Lookahead }

// Units is the bootstrap unit count, floor included.
func (w Window) Units() int { return w.Size() + 1 }

// Unit is one filegroup/file pair bound to a key.
type Unit struct {
	Key       Key
	Filegroup string
	File      string
	Path      string
}

// Naming derives physical names from keys. Filegroups carry the table name as
// prefix, which is what the inventory reader strips.
type Naming struct {
	TableName   string
	FilePrefix  string
	StoragePath string
}

func NamingFrom(p rotatorcfg.PartitionConfig) Naming {
	return Naming{TableName: p.TableName, FilePrefix: p.FilePrefix, StoragePath: p.StoragePath}
}

func (n Naming) Filegroup(k Key) string { return n.TableName + string(k) }

func (n Naming) File(k Key) string { return n.FilePrefix + string(k) }

// Path joins the storage path and the data file name with the separator the
// configured path already uses, so Windows paths stay Windows paths.
func (n Naming) Path(k Key) string {
	sep := "/"
	if strings.Contains(n.StoragePath, `\`) {
		sep = `\`
	}
	dir := strings.TrimRight(n.StoragePath, `\/`)
	return dir + sep + n.File(k) + ".ndf"
}

func (n Naming) Unit(k Key) Unit {
	return Unit{Key: k, Filegroup: n.Filegroup(k), File: n.File(k), Path: n.Path(k)}
}

// KeyFromFilegroup reverses Filegroup. ok is false for groups that do not
// belong to the table (PRIMARY and friends).
func (n Naming) KeyFromFilegroup(name string) (Key, bool) {
	if n.TableName == "" || !strings.HasPrefix(name, n.TableName) {
		return "", false
	}
	rest := strings.TrimPrefix(name, n.TableName)
	if rest == "" {
		return "", false
	}
	return Key(rest), true
}

// InventoryOf builds the snapshot from catalog filegroup names. Names without
// the table prefix are skipped; keys are not parsed.
func (n Naming) InventoryOf(filegroups []string) Inventory {
	inv := make(Inventory, len(filegroups))
	for _, name := range filegroups {
		if k, ok := n.KeyFromFilegroup(name); ok {
			inv.Add(k)
		}
	}
	return inv
}
