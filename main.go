package main

import "github.com/jmehdipour/crm-campaigns/cmd"

func main() { cmd.Execute() }
