// Package extract pulls wanted members out of a downloaded archive.
//
// Archives are sequentially-compressed tar streams (tar.xz from the
// AllTheBacteria distribution, tar.gz and plain tar also accepted). Random
// access is not possible, so extraction is a single forward pass: each
// member header is inspected in stream order, wanted members are streamed
// to the output bucket, everything else is skipped without materializing.
// The pass stops as soon as the last wanted member has been written, which
// is what makes small queries against multi-gigabyte archives cheap.
//
// Output goes through gocloud.dev/blob, so the output root can be a local
// directory (file://), an object store bucket (s3://, gs://), or an
// in-memory bucket in tests. Blob writers commit on Close, so a partially
// written member is never visible at its final key.
package extract
