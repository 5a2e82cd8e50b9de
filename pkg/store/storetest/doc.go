// Package storetest provides a conformance suite for store.Store engines.
//
// Engines call RunConformanceSuite from their own tests with a factory that
// returns a fresh, empty store:
//
//	func TestConformance(t *testing.T) {
//		storetest.RunConformanceSuite(t, func(t *testing.T) store.Store {
//			return memory.New()
//		})
//	}
package storetest
