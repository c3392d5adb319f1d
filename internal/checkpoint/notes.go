// Package checkpoint mirrors epistemic-state snapshots into a dedicated git
// notes ref, so a peer working copy of the same repository can read a
// session's last checkpoint without a network round trip to the SQLite
// store. The tree-surgery approach (read only the path being touched, reuse
// every sibling hash unchanged) is grounded on d4rk8l1tz-cli's
// checkpoint/parse_tree.go and therealtimex-entire-cli's
// checkpoint/temporary.go, adapted from file-tree checkpoints to a flat,
// content-addressed notes tree.
package checkpoint

import (
	"fmt"
	"io"
	"sort"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// notePath fanouts a checkpoint ID into a two-level directory, matching how
// git's own "notes" tree shards by object hash prefix so no single directory
// grows unbounded.
func notePath(checkpointID string) (dir, file string) {
	if len(checkpointID) < 3 {
		return "", checkpointID
	}
	return checkpointID[:2], checkpointID[2:]
}

// sortTreeEntries sorts tree entries in git's required order: byte-wise by
// name, with directories compared as if a trailing "/" were appended.
func sortTreeEntries(entries []object.TreeEntry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].Name, entries[j].Name
		if entries[i].Mode == filemode.Dir {
			a += "/"
		}
		if entries[j].Mode == filemode.Dir {
			b += "/"
		}
		return a < b
	})
}

// storeBlob writes content as a git blob and returns its hash.
func storeBlob(repo *git.Repository, content []byte) (plumbing.Hash, error) {
	obj := repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open blob writer: %w", err)
	}
	if _, err := w.Write(content); err != nil {
		_ = w.Close()
		return plumbing.ZeroHash, fmt.Errorf("write blob: %w", err)
	}
	if err := w.Close(); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("close blob writer: %w", err)
	}
	return repo.Storer.SetEncodedObject(obj)
}

// storeTree encodes and persists a tree object from its entries.
func storeTree(repo *git.Repository, entries []object.TreeEntry) (plumbing.Hash, error) {
	tree := &object.Tree{Entries: entries}
	obj := repo.Storer.NewEncodedObject()
	if err := tree.Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("encode tree: %w", err)
	}
	return repo.Storer.SetEncodedObject(obj)
}

// putBlobAtPath writes a single file at (dir, file) under rootTreeHash,
// leaving every sibling entry's hash untouched (the optimization the
// grounding file calls out: no re-reading of unrelated subtrees).
func putBlobAtPath(repo *git.Repository, rootTreeHash plumbing.Hash, dir, file string, blobHash plumbing.Hash) (plumbing.Hash, error) {
	var rootEntries []object.TreeEntry
	if rootTreeHash != plumbing.ZeroHash {
		tree, err := repo.TreeObject(rootTreeHash)
		if err != nil {
			return plumbing.ZeroHash, fmt.Errorf("read root tree %s: %w", rootTreeHash, err)
		}
		rootEntries = tree.Entries
	}

	if dir == "" {
		return storeTree(repo, replaceEntry(rootEntries, file, object.TreeEntry{
			Name: file, Mode: filemode.Regular, Hash: blobHash,
		}))
	}

	var subtreeHash plumbing.Hash
	for _, e := range rootEntries {
		if e.Name == dir && e.Mode == filemode.Dir {
			subtreeHash = e.Hash
			break
		}
	}
	var subEntries []object.TreeEntry
	if subtreeHash != plumbing.ZeroHash {
		subtree, err := repo.TreeObject(subtreeHash)
		if err != nil {
			return plumbing.ZeroHash, fmt.Errorf("read subtree %s/: %w", dir, err)
		}
		subEntries = subtree.Entries
	}
	newSubEntries := replaceEntry(subEntries, file, object.TreeEntry{
		Name: file, Mode: filemode.Regular, Hash: blobHash,
	})
	newSubtreeHash, err := storeTree(repo, newSubEntries)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	return storeTree(repo, replaceEntry(rootEntries, dir, object.TreeEntry{
		Name: dir, Mode: filemode.Dir, Hash: newSubtreeHash,
	}))
}

// replaceEntry returns entries with any existing entry named `name` replaced
// by `replacement` (or `replacement` appended if absent), sorted.
func replaceEntry(entries []object.TreeEntry, name string, replacement object.TreeEntry) []object.TreeEntry {
	out := make([]object.TreeEntry, 0, len(entries)+1)
	found := false
	for _, e := range entries {
		if e.Name == name {
			out = append(out, replacement)
			found = true
		} else {
			out = append(out, e)
		}
	}
	if !found {
		out = append(out, replacement)
	}
	sortTreeEntries(out)
	return out
}

// readBlobAtPath resolves (dir, file) under rootTreeHash and returns the
// blob's content, or (nil, false, nil) if no such entry exists.
func readBlobAtPath(repo *git.Repository, rootTreeHash plumbing.Hash, dir, file string) ([]byte, bool, error) {
	if rootTreeHash == plumbing.ZeroHash {
		return nil, false, nil
	}
	tree, err := repo.TreeObject(rootTreeHash)
	if err != nil {
		return nil, false, fmt.Errorf("read root tree: %w", err)
	}

	target := tree
	if dir != "" {
		var subtreeHash plumbing.Hash
		found := false
		for _, e := range tree.Entries {
			if e.Name == dir && e.Mode == filemode.Dir {
				subtreeHash = e.Hash
				found = true
				break
			}
		}
		if !found {
			return nil, false, nil
		}
		target, err = repo.TreeObject(subtreeHash)
		if err != nil {
			return nil, false, fmt.Errorf("read subtree %s/: %w", dir, err)
		}
	}

	for _, e := range target.Entries {
		if e.Name == file {
			blob, err := repo.BlobObject(e.Hash)
			if err != nil {
				return nil, false, fmt.Errorf("read blob: %w", err)
			}
			reader, err := blob.Reader()
			if err != nil {
				return nil, false, fmt.Errorf("open blob reader: %w", err)
			}
			defer reader.Close()
			content, err := io.ReadAll(reader)
			if err != nil {
				return nil, false, fmt.Errorf("read blob content: %w", err)
			}
			return content, true, nil
		}
	}
	return nil, false, nil
}
