// Package index reads the AllTheBacteria file-list metadata index.
//
// The index is a tab-separated table, optionally gzip-compressed, mapping
// each assembly sample to the tar.xz archive that contains it and to the
// file path inside that archive. This package streams the table row by row
// and filters rows by a case-insensitive species regexp.
//
// # Usage
//
//	rc, err := index.Open("file_list.all.latest.tsv.gz")
//	defer rc.Close()
//
//	f, err := index.NewFilter(rc, "serratia")
//	for {
//	    row, err := f.Next()
//	    if err == io.EOF {
//	        break
//	    }
//	    // row.Archive, row.MemberPath, ...
//	}
//
// Readers are forward-only. A fresh pass requires a fresh stream.
package index
