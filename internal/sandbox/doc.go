// Package sandbox runs workspace tools for agents under a fixed set of rules.
//
// Before anything is spawned a command line must tokenize to at least one
// token, contain no deny-listed substring, start with the allow-listed
// program, name a script inside the workspace, and keep every --input,
// --output, --file and --repo value inside the workspace. An optional rego
// Policy may then block the command.
//
// A run's Result.OK is the effective outcome: the process exited zero and,
// if it wrote a skill-report envelope to its --output file, the envelope
// says ok. File artifacts carry a blake2b-256 digest.
package sandbox
