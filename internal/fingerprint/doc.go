// Package fingerprint computes cheap structural signatures of file trees
// and canonical hashes of byte content and JSON documents.
//
// Two kinds of fingerprint are produced:
//
//   - QuickSignature: a structural scan (file count, latest mtime, total
//     bytes) reduced to a single SHA-256 hash. O(directory walk), no file
//     contents read. Used to answer "did the input change" once per job
//     invocation.
//   - ContentHash: a streaming SHA-256 over file bytes. Used to verify the
//     output artifact, once per rebuild rather than once per decision.
//
// All hashes are computed over canonical JSON (keys sorted by UTF-16 code
// units, no insignificant whitespace, NFC-normalized strings, no HTML
// escaping) so that semantically identical documents always hash
// identically regardless of formatting.
package fingerprint
