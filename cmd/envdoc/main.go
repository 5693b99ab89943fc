package main

import (
	"fmt"

	"agentscan/internal/config"
)

func main() {
	fmt.Println("# agentscan environment variables")
	fmt.Println()
	fmt.Println("Environment variables override the config file. Names derive from")
	fmt.Println("the yaml keys, uppercased and joined with underscores under the")
	fmt.Println("AGENTSCAN prefix.")
	fmt.Println()
	fmt.Println("## Available variables")
	fmt.Println()

	for _, example := range config.EnvExample() {
		fmt.Printf("- `%s`\n", example)
	}

	fmt.Println()
	fmt.Println("## Examples")
	fmt.Println()
	fmt.Println("```bash")
	fmt.Println("# Point the explorer at a registry")
	fmt.Println("export AGENTSCAN_UPSTREAM_URL=https://registry.example.com")
	fmt.Println()
	fmt.Println("# Move the listener")
	fmt.Println("export AGENTSCAN_SERVER_PORT=9090")
	fmt.Println()
	fmt.Println("# Share rate limit counters across replicas")
	fmt.Println("export AGENTSCAN_RATELIMIT_STORE=redis")
	fmt.Println("export AGENTSCAN_RATELIMIT_REDIS_ADDRS=redis-0:6379,redis-1:6379")
	fmt.Println()
	fmt.Println("./agentscan -config agentscan.yaml")
	fmt.Println("```")
}
