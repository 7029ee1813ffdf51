// Package ddl turns planner output into ordered statement batches.
//
// Create and retire work never share a batch. Inside a create batch every
// filegroup/file pair is emitted first; then, per key in ascending order, the
// scheme is told which filegroup is used next and only after that the
// function is split at the key. A retire batch is always remove file, merge
// range, remove filegroup.
package ddl

import (
	"fmt"
	"sort"
	"strings"

	"github.com/example/partition-rotator/internal/partition"
	"github.com/example/partition-rotator/internal/rotatorcfg"
)

// Kind tags a batch for logs and metrics.
type Kind string

const (
	KindCreate    Kind = "create"
	KindRetire    Kind = "retire"
	KindBootstrap Kind = "bootstrap"
)

// Batch is an ordered list of statements sent in one round trip.
type Batch struct {
	Kind       Kind
	Statements []string
}

func (b Batch) Empty() bool { return len(b.Statements) == 0 }

func (b Batch) Len() int { return len(b.Statements) }

// Text is the batch as sent to the store.
func (b Batch) Text() string { return strings.Join(b.Statements, "\n") }

// Builder renders statements from validated configuration.
type Builder struct {
	db       string
	table    string
	fn       string
	scheme   string
	keyCol   string
	partCol  string
	sizeMB   int
	maxMB    int
	growthMB int
	naming   partition.Naming
}

// NewBuilder validates every configuration-derived identifier once.
func NewBuilder(p rotatorcfg.PartitionConfig) (*Builder, error) {
	checks := []struct{ field, value string }{
		{"database_name", p.DatabaseName},
		{"table_name", p.TableName},
		{"file_prefix", p.FilePrefix},
		{"function_name", p.FunctionName},
		{"scheme_name", p.SchemeName},
		{"key_column", p.KeyColumn},
		{"partition_column", p.PartitionColumn},
	}
	for _, c := range checks {
		if err := checkName(c.field, c.value); err != nil {
			return nil, err
		}
	}
	if err := checkPath("storage_path", p.StoragePath); err != nil {
		return nil, err
	}
	if p.FileSizeMB <= 0 || p.FileMaxSizeMB <= 0 || p.FileGrowthMB <= 0 {
		return nil, fmt.Errorf("ddl: file sizes must be positive (size=%d max=%d growth=%d)", p.FileSizeMB, p.FileMaxSizeMB, p.FileGrowthMB)
	}
	return &Builder{
		db:       p.DatabaseName,
		table:    p.TableName,
		fn:       p.FunctionName,
		scheme:   p.SchemeName,
		keyCol:   p.KeyColumn,
		partCol:  p.PartitionColumn,
		sizeMB:   p.FileSizeMB,
		maxMB:    p.FileMaxSizeMB,
		growthMB: p.FileGrowthMB,
		naming:   partition.NamingFrom(p),
	}, nil
}

func (b *Builder) Naming() partition.Naming { return b.naming }

// unit validates the key and, through the validated prefixes, every name
// derived from it.
func (b *Builder) unit(k partition.Key) (partition.Unit, error) {
	if err := checkKey(k); err != nil {
		return partition.Unit{}, err
	}
	return b.naming.Unit(k), nil
}

func (b *Builder) addFilegroup(u partition.Unit) string {
	return fmt.Sprintf("ALTER DATABASE %s ADD FILEGROUP %s;", b.db, u.Filegroup)
}

func (b *Builder) addFile(u partition.Unit) string {
	return fmt.Sprintf("ALTER DATABASE %s ADD FILE (NAME = %s, FILENAME = '%s', SIZE = %dMB, MAXSIZE = %dMB, FILEGROWTH = %dMB) TO FILEGROUP %s;",
		b.db, u.File, u.Path, b.sizeMB, b.maxMB, b.growthMB, u.Filegroup)
}

func (b *Builder) nextUsed(u partition.Unit) string {
	return fmt.Sprintf("ALTER PARTITION SCHEME %s NEXT USED %s;", b.scheme, u.Filegroup)
}

func (b *Builder) split(k partition.Key) string {
	return fmt.Sprintf("ALTER PARTITION FUNCTION %s () SPLIT RANGE('%s');", b.fn, k)
}

func (b *Builder) merge(k partition.Key) string {
	return fmt.Sprintf("ALTER PARTITION FUNCTION %s () MERGE RANGE('%s');", b.fn, k)
}

func (b *Builder) removeFile(u partition.Unit) string {
	return fmt.Sprintf("ALTER DATABASE %s REMOVE FILE %s;", b.db, u.File)
}

func (b *Builder) removeFilegroup(u partition.Unit) string {
	return fmt.Sprintf("ALTER DATABASE %s REMOVE FILEGROUP %s;", b.db, u.Filegroup)
}

// Create renders the create batch for plan.Create, splitting in ascending
// key order whatever order the plan lists them in.
func (b *Builder) Create(plan partition.Plan) (Batch, error) {
	batch := Batch{Kind: KindCreate}
	keys := append([]partition.Key(nil), plan.Create...)
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	units := make([]partition.Unit, 0, len(keys))
	for _, k := range keys {
		if k.IsFloor() {
			return Batch{}, fmt.Errorf("%w: floor partition cannot be created by rotation", ErrInvalidIdentifier)
		}
		u, err := b.unit(k)
		if err != nil {
			return Batch{}, err
		}
		units = append(units, u)
		batch.Statements = append(batch.Statements, b.addFilegroup(u), b.addFile(u))
	}
	for _, u := range units {
		batch.Statements = append(batch.Statements, b.nextUsed(u), b.split(u.Key))
	}
	return batch, nil
}

// Retire renders the three-statement retire batch, or an empty batch when the
// plan retires nothing.
func (b *Builder) Retire(plan partition.Plan) (Batch, error) {
	batch := Batch{Kind: KindRetire}
	if !plan.HasRetire() {
		return batch, nil
	}
	if plan.Retire.IsFloor() {
		return Batch{}, fmt.Errorf("%w: floor partition cannot be retired", ErrInvalidIdentifier)
	}
	u, err := b.unit(plan.Retire)
	if err != nil {
		return Batch{}, err
	}
	batch.Statements = []string{b.removeFile(u), b.merge(u.Key), b.removeFilegroup(u)}
	return batch, nil
}
