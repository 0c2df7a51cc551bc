// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package features

import "aegis.dev/aegis/internal/record"

// SlotNames re-exports the FeatureVector slot layout for callers that
// only import internal/features (e.g. logging/explanation code that
// never otherwise touches internal/record directly). The canonical
// definition — and the one the wire format is versioned against — lives
// in internal/record/slots.go, since FeatureVector itself is defined
// there.
var SlotNames = record.SlotNames
