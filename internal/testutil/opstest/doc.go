// SPDX-License-Identifier: MPL-2.0

// Package opstest writes op directories for tests. The directory layout is
// spelled out here independently of package opfs so the two check each
// other.
package opstest
