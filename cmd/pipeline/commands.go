// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jinterlante1206/AleutianPipeline/services/pipeline/datatypes"
)

var (
	rootCmd = &cobra.Command{
		Use:   "pipeline",
		Short: "A CLI for the change-proposal pipeline",
		Long: `Submit natural-language change requests, run their generated tests,
and approve or deny the resulting proposals.`,
	}

	idempotencyKey string
	submitCmd      = &cobra.Command{
		Use:   "submit [prompt]",
		Short: "Submit a change request and stage candidate files",
		Args:  cobra.MinimumNArgs(1),
		Run:   runSubmit,
	}

	tasksCmd = &cobra.Command{
		Use:   "tasks",
		Short: "List all tasks, newest first",
		Run:   runListTasks,
	}
	getTaskCmd = &cobra.Command{
		Use:   "get [task_id]",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		Run:   runGetTask,
	}
	deleteTaskCmd = &cobra.Command{
		Use:   "delete [task_id]",
		Short: "Delete a task, cancelling any in-flight test run",
		Args:  cobra.ExactArgs(1),
		Run:   runDeleteTask,
	}
	clearCmd = &cobra.Command{
		Use:   "clear",
		Short: "DANGER: Delete every task and proposal",
		Run:   runClear,
	}

	testMode string
	testCmd  = &cobra.Command{
		Use:   "test [task_id]",
		Short: "Run the task's tests (auto or manual mode)",
		Args:  cobra.ExactArgs(1),
		Run:   runTest,
	}

	proposalsCmd = &cobra.Command{
		Use:   "proposals [task_id]",
		Short: "List a task's proposals",
		Args:  cobra.ExactArgs(1),
		Run:   runListProposals,
	}
	approveCmd = &cobra.Command{
		Use:   "approve [proposal_id...]",
		Short: "Approve one or more proposals (bulk batches must include the oldest pending one)",
		Args:  cobra.MinimumNArgs(1),
		Run:   runApprove,
	}
	denyCmd = &cobra.Command{
		Use:   "deny [proposal_id...]",
		Short: "Deny one or more proposals (a single denial terminates the task)",
		Args:  cobra.MinimumNArgs(1),
		Run:   runDeny,
	}

	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Stream pipeline status events until interrupted",
		Run:   runWatch,
	}
)

func init() {
	viper.SetEnvPrefix("pipeline")
	viper.AutomaticEnv()
	viper.SetDefault("url", "http://localhost:12230")

	submitCmd.Flags().StringVar(&idempotencyKey, "key", "",
		"idempotency key; retries with the same key within 60s create one task")
	testCmd.Flags().StringVar(&testMode, "mode", "auto", "test mode: auto or manual")

	rootCmd.AddCommand(submitCmd, tasksCmd, getTaskCmd, deleteTaskCmd, clearCmd,
		testCmd, proposalsCmd, approveCmd, denyCmd, watchCmd)
}

func baseURL() string {
	return strings.TrimRight(viper.GetString("url"), "/")
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Minute}
}

// doJSON performs one API call and pretty-prints the response body.
func doJSON(method, path string, payload any) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			log.Fatalf("Error encoding request: %v", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, baseURL()+path, body)
	if err != nil {
		log.Fatalf("Error building request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient().Do(req)
	if err != nil {
		log.Fatalf("Error calling pipeline service: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("Error reading response: %v", err)
	}

	var pretty bytes.Buffer
	if json.Indent(&pretty, raw, "", "  ") == nil {
		fmt.Println(pretty.String())
	} else {
		fmt.Println(string(raw))
	}
	if resp.StatusCode >= 400 {
		os.Exit(1)
	}
}

func runSubmit(cmd *cobra.Command, args []string) {
	doJSON(http.MethodPost, "/v1/tasks", datatypes.SubmitRequest{
		Prompt:         strings.Join(args, " "),
		IdempotencyKey: idempotencyKey,
	})
}

func runListTasks(cmd *cobra.Command, args []string) {
	doJSON(http.MethodGet, "/v1/tasks", nil)
}

func runGetTask(cmd *cobra.Command, args []string) {
	doJSON(http.MethodGet, "/v1/tasks/"+args[0], nil)
}

func runDeleteTask(cmd *cobra.Command, args []string) {
	doJSON(http.MethodDelete, "/v1/tasks/"+args[0], nil)
}

func runClear(cmd *cobra.Command, args []string) {
	doJSON(http.MethodDelete, "/v1/tasks", nil)
}

func runTest(cmd *cobra.Command, args []string) {
	doJSON(http.MethodPost, "/v1/tasks/"+args[0]+"/test",
		datatypes.TestRequest{Mode: testMode})
}

func runListProposals(cmd *cobra.Command, args []string) {
	doJSON(http.MethodGet, "/v1/tasks/"+args[0]+"/proposals", nil)
}

func runApprove(cmd *cobra.Command, args []string) {
	if len(args) == 1 {
		doJSON(http.MethodPost, "/v1/proposals/"+args[0]+"/approve", nil)
		return
	}
	doJSON(http.MethodPost, "/v1/proposals/bulk-approve",
		datatypes.BulkDecisionRequest{ProposalIDs: args})
}

func runDeny(cmd *cobra.Command, args []string) {
	if len(args) == 1 {
		doJSON(http.MethodPost, "/v1/proposals/"+args[0]+"/deny", nil)
		return
	}
	doJSON(http.MethodPost, "/v1/proposals/bulk-deny",
		datatypes.BulkDecisionRequest{ProposalIDs: args})
}

func runWatch(cmd *cobra.Command, args []string) {
	wsURL := strings.Replace(baseURL(), "http", "ws", 1) + "/v1/events/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		log.Fatalf("Error connecting to event stream: %v", err)
	}
	defer conn.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go func() {
		<-interrupt
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}()

	fmt.Println("Watching pipeline events, Ctrl-C to stop")
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		fmt.Println(string(msg))
	}
}
