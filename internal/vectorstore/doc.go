// Package vectorstore persists chunk vectors and their metadata per repository.
//
// Each repository owns a Store made of two artifacts that must stay
// referentially consistent:
//   - an Index holding one vector per row (chromem-go embedded, or Qdrant)
//   - a Catalog (SQLite) holding one CatalogEntry per row
//
// Row i of the Index corresponds to the CatalogEntry whose FaissRow is i.
// Rows are append-only and never renumbered.
//
// # Commit point
//
// The Catalog transaction is the commit point of Store.Add. Index rows written
// before a failed commit are removed, and any rows a crash left behind are
// truncated on the next Open:
//
//	index rows >= catalog rows  -> orphans, deleted
//	index rows <  catalog rows  -> ErrCorruptIndex, re-ingest required
//
// # Layout
//
//	<index_dir>/<repo_id>/
//	    index/       chromem persistent DB
//	    catalog.db   SQLite catalog
//	    meta.json    sidecar: embedding dimension, backend, creation time
//
// # Usage
//
//	mgr, err := vectorstore.NewManager(vectorstore.ManagerConfig{
//	    IndexDir:  "/data/indexes",
//	    Dimension: embedder.Dimension(),
//	}, logger)
//	if err != nil {
//	    return err
//	}
//	defer mgr.Close()
//
//	store, err := mgr.Store(ctx, "my-repo")
//	n, err := store.Add(ctx, chunks, vectors)
//	results, err := mgr.SearchMultiple(ctx, queryVec, []string{"my-repo"}, 6)
package vectorstore
