/*
Package algorithms provides implementations of common algorithms for distributed systems.

Highlights:
  - Rate Limiting: Token Bucket, Leaky Bucket, Fixed Window, Sliding Window
*/
package algorithms
