// Package fragments provides low-level encoding and decoding helpers
// to construct and parse bus message fragments.
//
// The provided encoder and decoder are very low level, and do not
// encode any type signature semantics. They only know about
// alignment, byte order and the framing of strings, arrays and
// structs. It is the caller's responsibility to produce valid
// messages using these tools. The lia package's value codec is built
// on top of them.
package fragments
