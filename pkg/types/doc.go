// Package types defines the record contract, the row store and change channel
// interfaces consumed by synchronized collections, the practice entities
// (clients, documents, tasks), configuration, and the standard errors.
package types
