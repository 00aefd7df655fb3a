// Command sealkey prepares values for the key store and gateway config.
//
//	# encrypt a provider key for the api_keys table
//	echo -n "sk-..." | sealkey seal
//
//	# check a stored value opens with the current secret
//	sealkey open "<base64 payload>"
//
//	# bcrypt a gateway key for GATEWAY_API_KEY_HASH
//	sealkey hash "<gateway key>"
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
