/*
Package config loads the settings of a checkpointing process.

Config wraps a map[string]any decoded from YAML or JSON and offers typed
accessors that fall back to a default when a key is missing or has the wrong
type. Settings is the validated view used by the ckptdir command:

	storage: /data/ckpt
	process: 0
	primary_process: 0
	participants: [0, 1, 2]
	barrier:
	  kind: file
	  dir: /data/ckpt/.barriers
	  timeout: 5m
	  poll_interval: 200ms
	  session: run-42
	barrier_key_prefix: trainer
	path_permission_mode: 0o750
	temporary_path: auto
	metadata:
	  backend: file

The process index can be overridden with the CKPTDIR_PROCESS environment
variable so that one file serves every process of a run. CKPTDIR_BARRIER_SESSION
overrides barrier.session, which the file barrier requires and which must
change from one run to the next.

Config is safe for concurrent reads. The underlying map must not be modified
after New.
*/
package config
