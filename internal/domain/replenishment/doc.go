// Package replenishment models the planning-side purchase proposals that are
// published into the ERP staging tables.
//
// A run reads PENDING lines, consolidates the ones delivered through a
// distribution center, nets them against the stock already available at that
// center and hands the surviving lines to the staging normalizer. The package
// is free of I/O: stores are reached through the ports declared in
// repository.go.
package replenishment
