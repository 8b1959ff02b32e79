package staging

import (
	"fmt"
	"regexp"
	"strings"
)

// Source tokens resolve a destination column from the netted line itself
// rather than from a descriptive field.
const (
	SourceSupplier       = "@supplier"
	SourceArticle        = "@article"
	SourceBranch         = "@branch"
	SourceQuantity       = "@quantity"
	SourceCorrelationKey = "@key"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,127}$`)

// ValidIdentifier reports whether name may be used as a schema, table or column identifier
func ValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

// ColumnMapping binds a destination column to its source
type ColumnMapping struct {
	Column string `mapstructure:"column"`
	Source string `mapstructure:"source"`
	// Default replaces NULL or unparseable values for non-key columns
	Default any `mapstructure:"default"`
}

// Target describes one destination staging table and how to fill it
type Target struct {
	Name           string          `mapstructure:"name"`
	Schema         string          `mapstructure:"schema"`
	Table          string          `mapstructure:"table"`
	Columns        []ColumnMapping `mapstructure:"columns"`
	PrimaryKey     []string        `mapstructure:"primary_key"`
	QuantityColumn string          `mapstructure:"quantity_column"`
}

// DefaultTarget is the purchase-order preload table of the ERP
func DefaultTarget() Target {
	return Target{
		Name:   "oc_precarga",
		Schema: "dbo",
		Table:  "T080_OC_PRECARGA_KIKKER",
		Columns: []ColumnMapping{
			{Column: "C_PROVEEDOR", Source: SourceSupplier},
			{Column: "C_ARTICULO", Source: SourceArticle},
			{Column: "C_SUCU_EMPR", Source: SourceBranch},
			{Column: "Q_BULTOS_KILOS_DIARCO", Source: SourceQuantity},
			{Column: "F_ALTA_SIST", Source: "f_alta_sist"},
			{Column: "C_USUARIO_GENERO_OC", Source: "c_usuario_genero_oc"},
			{Column: "C_TERMINAL_GENERO_OC", Source: "c_terminal_genero_oc"},
			{Column: "F_GENERO_OC", Source: "f_genero_oc"},
			{Column: "C_USUARIO_BLOQUEO", Source: "c_usuario_bloqueo"},
			{Column: "M_PROCESADO", Source: "m_procesado", Default: "N"},
			{Column: "F_PROCESADO", Source: "f_procesado"},
			{Column: "U_PREFIJO_OC", Source: "u_prefijo_oc"},
			{Column: "U_SUFIJO_OC", Source: "u_sufijo_oc"},
			{Column: "C_COMPRA_KIKKER", Source: SourceCorrelationKey},
			{Column: "C_USUARIO_MODIF", Source: "c_usuario_modif"},
			{Column: "C_COMPRADOR", Source: "c_comprador"},
		},
		PrimaryKey:     []string{"C_PROVEEDOR", "C_ARTICULO", "C_SUCU_EMPR", "C_COMPRA_KIKKER"},
		QuantityColumn: "Q_BULTOS_KILOS_DIARCO",
	}
}

// TransferTarget is the ERP inbox for distribution transfers. Rows carry no
// correlation column; a header's rows are identified by article, origin,
// destination and request time, which are stable across re-runs.
func TransferTarget() Target {
	return Target{
		Name:   "transf_connexa",
		Schema: "repl",
		Table:  "TRANSF_CONNEXA_IN",
		Columns: []ColumnMapping{
			{Column: "c_articulo", Source: SourceArticle},
			{Column: "c_sucu_dest", Source: SourceBranch},
			{Column: "c_sucu_orig", Source: "c_sucu_orig"},
			{Column: "q_requerida", Source: "q_requerida"},
			{Column: "q_bultos", Source: SourceQuantity},
			{Column: "q_factor", Source: "q_factor", Default: 1},
			{Column: "f_alta", Source: "f_alta"},
			{Column: "m_alta_prioridad", Source: "m_alta_prioridad", Default: "N"},
			{Column: "vchUsuario", Source: "vchusuario", Default: "CONNEXA"},
			{Column: "vchTerminal", Source: "vchterminal", Default: "API"},
			{Column: "forzarTransf", Source: "forzartransf", Default: "N"},
			{Column: "estado", Source: "estado", Default: "PENDIENTE"},
			{Column: "mensaje_error", Source: "mensaje_error", Default: ""},
		},
		PrimaryKey:     []string{"c_articulo", "c_sucu_orig", "c_sucu_dest", "f_alta"},
		QuantityColumn: "q_bultos",
	}
}

// QualifiedName returns schema.table for logging
func (t Target) QualifiedName() string {
	return t.Schema + "." + t.Table
}

// ColumnNames returns the ordered destination column list
func (t Target) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Column
	}
	return names
}

// IsKey reports whether column is part of the primary key
func (t Target) IsKey(column string) bool {
	for _, k := range t.PrimaryKey {
		if strings.EqualFold(k, column) {
			return true
		}
	}
	return false
}

// ColumnIndex returns the position of column in the ordered list, or -1
func (t Target) ColumnIndex(column string) int {
	for i, c := range t.Columns {
		if strings.EqualFold(c.Column, column) {
			return i
		}
	}
	return -1
}

// KeyIndexes returns the positions of the primary-key columns
func (t Target) KeyIndexes() []int {
	idx := make([]int, len(t.PrimaryKey))
	for i, k := range t.PrimaryKey {
		idx[i] = t.ColumnIndex(k)
	}
	return idx
}

// NonKeyColumns returns the ordered columns outside the primary key
func (t Target) NonKeyColumns() []string {
	out := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		if !t.IsKey(c.Column) {
			out = append(out, c.Column)
		}
	}
	return out
}

// Validate checks identifiers and the internal consistency of the map
func (t Target) Validate() error {
	if !ValidIdentifier(t.Schema) {
		return fmt.Errorf("target %q: invalid schema identifier %q", t.Name, t.Schema)
	}
	if !ValidIdentifier(t.Table) {
		return fmt.Errorf("target %q: invalid table identifier %q", t.Name, t.Table)
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("target %q: no columns mapped", t.Name)
	}

	seen := make(map[string]struct{}, len(t.Columns))
	for _, c := range t.Columns {
		if !ValidIdentifier(c.Column) {
			return fmt.Errorf("target %q: invalid column identifier %q", t.Name, c.Column)
		}
		lower := strings.ToLower(c.Column)
		if _, dup := seen[lower]; dup {
			return fmt.Errorf("target %q: column %s mapped twice", t.Name, c.Column)
		}
		seen[lower] = struct{}{}
		if strings.TrimSpace(c.Source) == "" {
			return fmt.Errorf("target %q: column %s has no source", t.Name, c.Column)
		}
	}

	if len(t.PrimaryKey) == 0 {
		return fmt.Errorf("target %q: primary key is empty", t.Name)
	}
	for _, k := range t.PrimaryKey {
		if t.ColumnIndex(k) < 0 {
			return fmt.Errorf("target %q: primary key column %s is not mapped", t.Name, k)
		}
	}
	for _, c := range t.Columns {
		if c.Source == SourceCorrelationKey && !t.IsKey(c.Column) {
			return fmt.Errorf("target %q: correlation column %s must be part of the primary key", t.Name, c.Column)
		}
	}
	if t.QuantityColumn != "" && t.ColumnIndex(t.QuantityColumn) < 0 {
		return fmt.Errorf("target %q: quantity column %s is not mapped", t.Name, t.QuantityColumn)
	}
	return nil
}
