// Package config resolves the process configuration of accountd.
//
// Values come from three layers. Explicitly set command line flags win over
// an optional YAML file given with --config, and the file wins over the
// built-in defaults. The result is resolved once at startup and passed by
// value; nothing in this package is global.
//
// Paths describes the on-disk layout under the data root:
//
//	<root>                 default ~/.accountd
//	  temp_files/ themes/ fonts/ extensions/ crash-logs/ recordings/
//	  .user/               account root, removed when an account is replaced
//	    debug.log
//	    warp/              backend storage root
package config
