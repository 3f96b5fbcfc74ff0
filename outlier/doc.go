// Copyright 2026 Hypergig, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package outlier implements passive outlier detection for upstream
// clusters. The request path reports per-attempt outcomes through each
// host's monitor; a run of consecutive failures ejects the host by
// setting its FailedOutlierCheck flag, and a periodic sweep unejects it
// once its ejection time has elapsed. Ejection time grows linearly with
// the number of times the host has been ejected, and a cap on the
// ejected fraction of the cluster keeps detection from blackholing the
// whole membership.
//
// The detector is the only writer of the FailedOutlierCheck flag; like
// active health checking it never changes membership itself.
package outlier
