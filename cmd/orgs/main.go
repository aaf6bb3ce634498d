package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gestaozabele/painelvendas/internal/app"
	"github.com/gestaozabele/painelvendas/internal/config"
	"github.com/gestaozabele/painelvendas/internal/orgcache"
	"github.com/gestaozabele/painelvendas/internal/remote"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("configuração inválida")
	}
	if cfg.StateBackend == config.BackendMemory {
		log.Warn().Msg("STATE_BACKEND=memory: a sessão não sobrevive entre execuções")
	}

	ctx := context.Background()

	rt, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("não foi possível montar o cliente")
	}
	defer rt.Close()
	rt.Start(ctx)

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "login":
		err = runLogin(ctx, rt, args)
	case "logout":
		err = runLogout(ctx, rt)
	case "whoami":
		err = printJSON(rt.Session.View())
	case "search":
		err = runSearch(ctx, rt, args)
	case "refresh":
		err = runRefresh(ctx, rt)
	case "sales":
		err = runSales(ctx, rt, args)
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		rt.Close()
		log.Fatal().Err(err).Str("cmd", cmd).Msg("comando falhou")
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "orgs CLI")
	fmt.Fprintln(os.Stderr, "uso:")
	fmt.Fprintln(os.Stderr, "  orgs login --email agente@parceiro.com --password segredo")
	fmt.Fprintln(os.Stderr, "  orgs whoami")
	fmt.Fprintln(os.Stderr, "  orgs search [--term lagos] [--no-cache]")
	fmt.Fprintln(os.Stderr, "  orgs refresh")
	fmt.Fprintln(os.Stderr, "  orgs sales [--page 1] [--orgs id1,id2] [--search termo]")
	fmt.Fprintln(os.Stderr, "  orgs logout")
}

func runLogin(ctx context.Context, rt *app.Runtime, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		email    = fs.String("email", "", "e-mail ou identificador do usuário")
		password = fs.String("password", os.Getenv("ORGS_PASSWORD"), "senha (ou ORGS_PASSWORD)")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" || *password == "" {
		return errors.New("email e password são obrigatórios")
	}

	sess, err := rt.Session.SignIn(ctx, *email, *password)
	if err != nil {
		return err
	}
	if _, err := rt.Directory.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("diretório de organizações não carregado")
	}
	return printJSON(map[string]any{"session": sess, "flags": sess.Flags()})
}

func runLogout(ctx context.Context, rt *app.Runtime) error {
	if err := rt.Directory.Clear(ctx); err != nil {
		log.Warn().Err(err).Msg("falha ao limpar diretório")
	}
	if err := rt.Session.SignOut(ctx); err != nil {
		log.Warn().Err(err).Msg("logout remoto falhou; sessão local removida")
	}
	fmt.Println("sessão encerrada")
	return nil
}

func runSearch(ctx context.Context, rt *app.Runtime, args []string) error {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		term    = fs.String("term", "", "termo de busca (nome, filial ou estado)")
		noCache = fs.Bool("no-cache", false, "consulta o servidor ignorando o snapshot")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	var opts []orgcache.SearchOption
	if *noCache {
		opts = append(opts, orgcache.WithoutCache())
	}
	groups, err := rt.Directory.Search(ctx, *term, opts...)
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		fmt.Println("nenhuma organização encontrada")
		return nil
	}
	return printJSON(groups)
}

func runRefresh(ctx context.Context, rt *app.Runtime) error {
	groups, err := rt.Directory.Refresh(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%d grupos atualizados\n", len(groups))
	return nil
}

func runSales(ctx context.Context, rt *app.Runtime, args []string) error {
	fs := flag.NewFlagSet("sales", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		page   = fs.Int("page", 1, "página")
		orgs   = fs.String("orgs", "", "ids de organização separados por vírgula")
		search = fs.String("search", "", "filtro livre")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	var ids []string
	if *orgs != "" {
		requested := strings.Split(*orgs, ",")
		resolved, err := rt.Directory.ResolveSelection(requested)
		var stale *orgcache.StaleSelectionError
		if errors.As(err, &stale) {
			var dropped []string
			resolved, dropped, err = rt.Directory.Reselect(ctx, requested)
			if err == nil && len(dropped) > 0 {
				log.Warn().Strs("dropped", dropped).Msg("organizações removidas da seleção")
			}
			if err == nil && len(resolved) == 0 {
				err = &orgcache.StaleSelectionError{Unknown: dropped}
			}
		}
		if err != nil {
			return err
		}
		ids = resolved
	}

	sales, pag, err := rt.Remote.ListSales(ctx, remote.ListParams{
		Page:            *page,
		PageSize:        20,
		Search:          *search,
		OrganizationIDs: ids,
	})
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"items": sales, "pagination": pag, "has_more": pag.HasMore()})
}

func printJSON(v any) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}
