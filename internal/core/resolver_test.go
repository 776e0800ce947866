package core

import (
	"context"
	"testing"

	"github.com/mikey-austin/montage_panel/pkg/mp"
)

func TestResolverAlias(t *testing.T) {
	presence := []mp.Presence{{NodeID: "mp:navigator:lobby", Kind: mp.KindNavigator, Name: "Lobby"}}
	resolver := Resolver{
		Presence: &stubBroker{presence: presence},
		Config: Config{
			Aliases: map[string]string{"front": "mp:navigator:lobby"},
		},
	}
	got, err := resolver.ResolveNavigator(context.Background(), "front")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.NodeID != "mp:navigator:lobby" {
		t.Fatalf("expected alias resolution")
	}
}

func TestResolverAmbiguous(t *testing.T) {
	presence := []mp.Presence{
		{NodeID: "mp:navigator:one", Kind: mp.KindNavigator, Name: "Lobby"},
		{NodeID: "mp:navigator:two", Kind: mp.KindNavigator, Name: "Lobby"},
	}
	resolver := Resolver{Presence: &stubBroker{presence: presence}}
	_, err := resolver.ResolveNavigator(context.Background(), "Lobby")
	if ExitCode(err) != ExitUsage {
		t.Fatalf("expected ambiguous usage error, got %v", err)
	}
	_, err = resolver.ResolveNavigator(context.Background(), "")
	if ExitCode(err) != ExitUsage {
		t.Fatalf("expected selector required, got %v", err)
	}
}

func TestResolverSingleNavigatorIsDefault(t *testing.T) {
	presence := []mp.Presence{
		{NodeID: "mp:surface:lobby", Kind: mp.KindSurface, Name: "Lobby Wall"},
		{NodeID: "mp:navigator:lobby", Kind: mp.KindNavigator, Name: "Lobby"},
	}
	resolver := Resolver{Presence: &stubBroker{presence: presence}}
	got, err := resolver.ResolveNavigator(context.Background(), "")
	if err != nil || got.NodeID != "mp:navigator:lobby" {
		t.Fatalf("expected sole navigator, got %v %v", got, err)
	}
	if _, err := resolver.ResolveNavigator(context.Background(), "mp:navigator:gone"); ExitCode(err) != ExitNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestResolverNoNavigator(t *testing.T) {
	resolver := Resolver{Presence: &stubBroker{}}
	if _, err := resolver.ResolveNavigator(context.Background(), ""); ExitCode(err) != ExitNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}
