package main

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

func speakPlainTextTo(w http.ResponseWriter) {
	w.Header().Add("Content-Type", "text/plain")
}

func respondWithError(w http.ResponseWriter, err error) {
	statusCode := http.StatusInternalServerError
	if errors.Is(err, ErrInsufficientFunds) {
		statusCode = http.StatusConflict
	}
	speakPlainTextTo(w)
	w.WriteHeader(statusCode)
	fmt.Fprintln(w, err)
}

func methodNotAllowed(w http.ResponseWriter, req *http.Request) {
	speakPlainTextTo(w)
	w.WriteHeader(http.StatusBadRequest)
	fmt.Fprintf(w, "Request uses disallowed HTTP method %q\n", req.Method)
}

func handleCounterGet(w http.ResponseWriter, _ *http.Request, d *demoState) {
	speakPlainTextTo(w)
	fmt.Fprintln(w, d.CounterValue())
}

func handleCounterIncrement(w http.ResponseWriter, req *http.Request, d *demoState) {
	v, err := d.IncrementCounter(req.Context())
	if err != nil {
		respondWithError(w, err)
		return
	}
	speakPlainTextTo(w)
	fmt.Fprintln(w, v)
}

func handleBalances(w http.ResponseWriter, _ *http.Request, d *demoState) {
	a, b := d.Balances()
	speakPlainTextTo(w)
	fmt.Fprintf(w, "a=%d b=%d\n", a, b)
}

func handleTransfer(w http.ResponseWriter, req *http.Request, d *demoState) {
	if err := req.ParseForm(); err != nil {
		speakPlainTextTo(w)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Failed to parse HTTP form: %v", err)
		return
	}
	amount, err := strconv.Atoi(req.FormValue("amount"))
	if err != nil {
		speakPlainTextTo(w)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "amount must be an integer: %v", err)
		return
	}
	a, b, err := d.Transfer(req.Context(), amount)
	if err != nil {
		respondWithError(w, err)
		return
	}
	speakPlainTextTo(w)
	fmt.Fprintf(w, "a=%d b=%d\n", a, b)
}

func handleInvariantGet(w http.ResponseWriter, _ *http.Request, d *demoState) {
	x, y := d.InvariantFlags()
	speakPlainTextTo(w)
	fmt.Fprintf(w, "x=%d y=%d\n", x, y)
}

func handleInvariantClear(w http.ResponseWriter, req *http.Request, d *demoState, target string) {
	useEnsure := req.FormValue("ensure") != "false"
	committed, err := d.ClearFlag(req.Context(), target, useEnsure)
	if err != nil {
		respondWithError(w, err)
		return
	}
	speakPlainTextTo(w)
	fmt.Fprintf(w, "committed=%t\n", committed)
}

func makeHandler(d *demoState) http.Handler {
	var mux http.ServeMux

	mux.HandleFunc("/counter", func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodGet:
			handleCounterGet(w, req, d)
		case http.MethodPost:
			handleCounterIncrement(w, req, d)
		default:
			methodNotAllowed(w, req)
		}
	})

	mux.HandleFunc("/accounts", func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodGet:
			handleBalances(w, req, d)
		case http.MethodPost:
			handleTransfer(w, req, d)
		default:
			methodNotAllowed(w, req)
		}
	})

	mux.HandleFunc("/invariant", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			methodNotAllowed(w, req)
			return
		}
		handleInvariantGet(w, req, d)
	})

	mux.HandleFunc("/invariant/clear", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			methodNotAllowed(w, req)
			return
		}
		if err := req.ParseForm(); err != nil {
			speakPlainTextTo(w)
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintf(w, "Failed to parse HTTP form: %v", err)
			return
		}
		target := req.FormValue("flag")
		if target != "x" && target != "y" {
			speakPlainTextTo(w)
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintln(w, `"flag" form value must be "x" or "y"`)
			return
		}
		handleInvariantClear(w, req, d, target)
	})

	return &mux
}
