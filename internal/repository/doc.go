// Package repository acquires source checkouts for ingestion.
//
// A repository is either a remote URL, shallow-cloned with go-git into
// <repos_dir>/<repo_id>, or a local directory, linked into the same place
// so that snippets for its citations resolve against one root.
//
//	co, err := repository.Acquire(ctx, "https://github.com/org/app.git", reposDir, "", "main")
//	// co.Root is the checkout, co.Revision the HEAD commit (empty for plain directories)
//
// # Security
//
// Repository ids are validated before they become directory names, and a
// local source is linked only when the destination is free or already
// points at it.
package repository
