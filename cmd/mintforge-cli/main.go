package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"mintforge/audit"
	"mintforge/cmd/internal/passphrase"
	"mintforge/crypto"
	"mintforge/storage"
)

var rpcEndpoint = defaultRPCEndpoint() // Defaults to localhost, can be overridden via MINTFORGE_RPC_URL or --rpc flag
var rpcAuthToken = os.Getenv("MINTFORGE_RPC_TOKEN")
var adminToken = os.Getenv("MINTFORGE_ADMIN_TOKEN")

func main() {
	args := os.Args[1:]
	var err error
	args, err = applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if len(args) < 1 {
		printUsage()
		return
	}

	command := args[0]
	switch command {
	case "generate-key":
		path := "signer.keystore"
		if len(args) > 1 {
			path = args[1]
		}
		generateKey(path)
	case "address":
		showAddress()
	case "nonce":
		if len(args) < 2 {
			fmt.Println("Error: Please provide a player address.")
			printUsage()
			return
		}
		showNonce(args[1])
	case "instance-id":
		if len(args) < 4 {
			fmt.Println("Error: Please provide player, item id and slot.")
			printUsage()
			return
		}
		slot, err := strconv.ParseUint(args[3], 10, 64)
		if err != nil {
			fmt.Println("Error: Invalid slot.")
			return
		}
		deriveInstanceID(args[1], args[2], slot)
	case "minted":
		if len(args) < 2 {
			fmt.Println("Error: Please provide an instance id.")
			printUsage()
			return
		}
		checkMinted(args[1])
	case "reset-nonce":
		if len(args) < 3 {
			fmt.Println("Error: Please provide a player address and a reason.")
			printUsage()
			return
		}
		resetNonce(args[1], strings.Join(args[2:], " "))
	case "clear-instance":
		if len(args) < 3 {
			fmt.Println("Error: Please provide an instance id and a reason.")
			printUsage()
			return
		}
		clearInstance(args[1], strings.Join(args[2:], " "))
	case "state":
		code := runStateCommand(args[1:])
		if code != 0 {
			os.Exit(code)
		}
	case "audit":
		code := runAuditCommand(args[1:])
		if code != 0 {
			os.Exit(code)
		}
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("MINTFORGE_RPC_URL")); v != "" {
		return v
	}
	return "http://localhost:8545"
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--rpc" {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for --rpc")
			}
			rpcEndpoint = args[i+1]
			i++
			continue
		}
		if strings.HasPrefix(arg, "--rpc=") {
			rpcEndpoint = strings.TrimPrefix(arg, "--rpc=")
			continue
		}
		out = append(out, arg)
	}
	return out, nil
}

func generateKey(path string) {
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Error: %s already exists; refusing to overwrite a signing key.\n", path)
		os.Exit(1)
	}
	secret, err := passphrase.NewSource(passphrase.DefaultEnvVar).Get()
	if err != nil {
		fmt.Printf("Error reading passphrase: %v\n", err)
		os.Exit(1)
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		fmt.Printf("Error generating key: %v\n", err)
		os.Exit(1)
	}
	if err := crypto.SaveToKeystore(path, key, secret); err != nil {
		fmt.Printf("Error saving keystore: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Signer keystore written to %s\n", path)
	fmt.Printf("Signing address: %s\n", key.PubKey().Address().String())
}

func showAddress() {
	var result struct {
		Address string `json:"address"`
	}
	if err := rpcCall("forge_getAddress", nil, &result); err != nil {
		fmt.Printf("Error fetching address: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(result.Address)
}

func showNonce(player string) {
	var result struct {
		Nonce uint64 `json:"nonce"`
	}
	params := map[string]string{"player": player}
	if err := rpcCall("forge_getNonce", params, &result); err != nil {
		fmt.Printf("Error fetching nonce: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Next nonce for %s: %d\n", player, result.Nonce)
}

func deriveInstanceID(player, itemID string, slot uint64) {
	var result struct {
		InstanceID string `json:"instanceId"`
	}
	params := map[string]interface{}{"player": player, "itemId": itemID, "slot": slot}
	if err := rpcCall("forge_calculateInstanceId", params, &result); err != nil {
		fmt.Printf("Error deriving instance id: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(result.InstanceID)
}

func checkMinted(instanceID string) {
	var result struct {
		Minted bool `json:"minted"`
	}
	params := map[string]string{"instanceId": instanceID}
	if err := rpcCall("forge_isInstanceMinted", params, &result); err != nil {
		fmt.Printf("Error checking instance: %v\n", err)
		os.Exit(1)
	}
	if result.Minted {
		fmt.Printf("%s is minted.\n", instanceID)
	} else {
		fmt.Printf("%s is not minted.\n", instanceID)
	}
}

func resetNonce(player, reason string) {
	params := map[string]string{"player": player, "reason": reason}
	if err := adminCall("forgeAdmin_resetNonce", params, nil); err != nil {
		fmt.Printf("Error resetting nonce: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Nonce for %s reset.\n", player)
	fmt.Println("Warning: only safe if no signed claim for this player is still pending on-chain.")
}

func clearInstance(instanceID, reason string) {
	params := map[string]string{"instanceId": instanceID, "reason": reason}
	if err := adminCall("forgeAdmin_clearMintedInstance", params, nil); err != nil {
		fmt.Printf("Error clearing instance: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Instance %s cleared.\n", instanceID)
}

func runStateCommand(args []string) int {
	if len(args) < 2 {
		fmt.Println("Usage: mintforge-cli state <export|restore> <file>")
		return 1
	}
	switch args[0] {
	case "export":
		return stateExport(args[1])
	case "restore":
		return stateRestore(args[1])
	default:
		fmt.Printf("Unknown state subcommand: %s\n", args[0])
		return 1
	}
}

func stateExport(path string) int {
	state, err := fetchState()
	if err != nil {
		fmt.Printf("Error fetching state: %v\n", err)
		return 1
	}
	if err := storage.WriteSnapshot(path, state); err != nil {
		fmt.Printf("Error writing snapshot: %v\n", err)
		return 1
	}
	fmt.Printf("State snapshot written to %s (%d players, %d instances).\n",
		path, len(state.Nonces), len(state.Instances))
	return 0
}

func stateRestore(path string) int {
	state, err := storage.ReadSnapshot(path)
	if err != nil {
		fmt.Printf("Error reading snapshot: %v\n", err)
		return 1
	}
	if err := adminCall("forgeAdmin_loadState", state, nil); err != nil {
		fmt.Printf("Error restoring state: %v\n", err)
		return 1
	}
	fmt.Printf("State restored from %s (%d players, %d instances).\n",
		path, len(state.Nonces), len(state.Instances))
	return 0
}

func runAuditCommand(args []string) int {
	if len(args) < 3 || args[0] != "export" {
		fmt.Println("Usage: mintforge-cli audit export <dsn> <dir> [--from=RFC3339] [--to=RFC3339]")
		return 1
	}
	dsn, dir := args[1], args[2]
	start, end, err := parseTimeRange(args[3:])
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return 1
	}

	store, err := audit.Open(dsn)
	if err != nil {
		fmt.Printf("Error opening audit store: %v\n", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	result, err := store.Export(dir, start, end)
	if err != nil {
		fmt.Printf("Error exporting audit records: %v\n", err)
		return 1
	}
	fmt.Printf("Exported %d authorizations.\n", result.Rows)
	fmt.Printf("  CSV:     %s\n", result.CSVPath)
	fmt.Printf("  Parquet: %s\n", result.ParquetPath)
	fmt.Printf("Exported %d admin actions.\n", result.AdminRows)
	fmt.Printf("  CSV:     %s\n", result.AdminCSVPath)
	fmt.Printf("  Parquet: %s\n", result.AdminParquetPath)
	return 0
}

// parseTimeRange reads optional --from/--to flags; an open end defaults to
// the epoch and now respectively.
func parseTimeRange(args []string) (time.Time, time.Time, error) {
	start := time.Unix(0, 0).UTC()
	end := time.Now().UTC()
	for _, arg := range args {
		switch {
		case strings.HasPrefix(arg, "--from="):
			parsed, err := time.Parse(time.RFC3339, strings.TrimPrefix(arg, "--from="))
			if err != nil {
				return start, end, fmt.Errorf("invalid --from: %w", err)
			}
			start = parsed
		case strings.HasPrefix(arg, "--to="):
			parsed, err := time.Parse(time.RFC3339, strings.TrimPrefix(arg, "--to="))
			if err != nil {
				return start, end, fmt.Errorf("invalid --to: %w", err)
			}
			end = parsed
		default:
			return start, end, fmt.Errorf("unknown flag %q", arg)
		}
	}
	if end.Before(start) {
		return start, end, fmt.Errorf("--to is before --from")
	}
	return start, end, nil
}

func printUsage() {
	fmt.Println("Usage: mintforge-cli [--rpc <url>] <command> [arguments]")
	fmt.Println()
	fmt.Println("Signing-side commands read MINTFORGE_RPC_TOKEN; administrative commands")
	fmt.Println("read a JWT from MINTFORGE_ADMIN_TOKEN.")
	fmt.Println("Commands:")
	fmt.Println("  generate-key [path]                    - Generates a signer keystore (default signer.keystore)")
	fmt.Println("  address                                - Prints the authority's signing address")
	fmt.Println("  nonce <player>                         - Prints the next claim nonce for a player")
	fmt.Println("  instance-id <player> <item> <slot>     - Derives the instance id for an item slot")
	fmt.Println("  minted <instance-id>                   - Checks whether an instance id is minted")
	fmt.Println("  reset-nonce <player> <reason...>       - Resets a player's claim nonce (admin)")
	fmt.Println("  clear-instance <instance-id> <reason...> - Releases a minted instance id (admin)")
	fmt.Println("  state export <file>                    - Writes a verified state snapshot (admin)")
	fmt.Println("  state restore <file>                   - Loads a state snapshot into the daemon (admin)")
	fmt.Println("  audit export <dsn> <dir> [--from --to] - Exports audit records to CSV and Parquet")
}
