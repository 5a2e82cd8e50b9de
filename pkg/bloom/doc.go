/*
Package bloom implements the reachable-set Bloom filter used by the state
garbage collector.

# What the filter guarantees

A Bloom filter is a probabilistic prefilter:

  - "definitely not present" is exact: an inserted hash is never reported
    absent (no false negatives).
  - "maybe present" can be wrong (false positives).

The collector only ever deletes on "definitely not present", so a false
positive costs retained garbage, never a lost node.

# Indexing

Elements are 32-byte node hashes which are already uniformly distributed, so
no extra hashing is done. The hash is split into four big-endian 64-bit
words; hash function i uses word (i mod 4) and sets bit (word & (bits-1)).
The bit count must therefore be a power of two.

	hash:  | w0 (8B) | w1 (8B) | w2 (8B) | w3 (8B) |
	fn i:    w[i%4] & mask  -> bit index

Bit j lives in byte j/8 at bit position j%8 (LSB first), which is also the
serialized layout returned by Bytes.

# Sizing

OptimalSize derives (bits, k) from an expected element count n and a target
false-positive rate p with the standard formulas

	bits = -n * ln(p) / (ln 2)^2
	k    = (bits / n) * ln 2

rounding bits up to the next power of two.
*/
package bloom
