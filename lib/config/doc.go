// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads agentrelay configuration.
//
// Configuration comes from exactly one file, named by the --config flag
// ([LoadFile]) or the AGENTRELAY_CONFIG environment variable ([Load]).
// There is no search path. Files ending in .json or .jsonc are read as
// JSON with comments and trailing commas; everything else is YAML.
//
// A file may carry development, staging, and production sections whose
// non-empty values override the base settings when environment
// matches. After overrides, ${HOME}, ${AGENTRELAY_ROOT}, and
// ${VAR:-default} references in path-like fields are expanded.
//
// The one behavioral default that depends on the environment is the
// ssh host-key policy: unless the file chooses one, production uses
// accept-new and every other environment uses no (accept any key).
// See [RemoteConfig.HostKeyPolicy].
package config
