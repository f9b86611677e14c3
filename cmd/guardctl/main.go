// guardctl - operator CLI for walletguard
package main

import "github.com/mbd888/walletguard/internal/cli"

func main() {
	cli.Execute()
}
