package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"collateral-watch/internal/asset"
	"collateral-watch/internal/service"
	"collateral-watch/internal/storage"
)

// Claim runs the reward-claim protocol once for every admitted token with a
// claim plan and prints the RewardsClaimed emissions.
func (a *App) Claim(ctx context.Context) error {
	holder, err := a.holderAccount()
	if err != nil {
		return err
	}

	client := a.newChainClient()
	defer client.Close()

	tokens, err := a.buildTokens(ctx, client)
	if err != nil {
		return err
	}

	withRewards := 0
	for _, tok := range tokens {
		if _, payload := tok.ClaimCalldata(); len(payload) > 0 {
			withRewards++
		}
	}
	if withRewards == 0 {
		return errors.New("no configured asset has a reward claim plan")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}
	var claimStore storage.RewardClaimStore
	if store != nil {
		claimStore = store
	}

	monitor := service.New(a.Config, nil, tokens, nil, nil, nil, nil, nil, a.Logger)
	delegate := asset.CallDelegate{Caller: client}

	results, claimErr := monitor.ClaimAll(ctx, delegate, holder, claimStore)

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Symbol\tReward Token\tAmount")
	emitted := 0
	for symbol, events := range results {
		for _, event := range events {
			emitted++
			fmt.Fprintf(writer, "%s\t%s\t%s\n", symbol, event.Token.Hex(), event.Amount.String())
		}
	}
	writer.Flush()

	if emitted == 0 {
		fmt.Fprintln(os.Stdout, "no rewards claimed")
	}

	return claimErr
}
