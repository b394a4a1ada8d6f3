package main

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strconv"

	"github.com/cosmopolite/cosmopolite/server/store"
	"github.com/cosmopolite/cosmopolite/server/store/types"
)

/*
Subject object in data.json

	{"name": "announcements", "writableOnlyBy": "admin"}
	{"name": "alice's inbox", "readableOnlyBy": "alice@example.com"}

A restriction is empty, "admin", or an account listed in "profiles".
*/
type Subject struct {
	Name           string `json:"name"`
	ReadableOnlyBy string `json:"readableOnlyBy"`
	WritableOnlyBy string `json:"writableOnlyBy"`
}

/*
Message object in data.json

	{"subject": "lobby", "from": "alice@example.com", "text": "hello"}
*/
type Message struct {
	Subject string `json:"subject"`
	From    string `json:"from"`
	Text    string `json:"text"`
}

// Data is the content of data.json.
type Data struct {
	Profiles []string  `json:"profiles"`
	Subjects []Subject `json:"subjects"`
	Messages []Message `json:"messages"`
}

func loadData(path string) (*Data, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var data Data
	if err = json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return &data, data.validate()
}

func (d *Data) validate() error {
	accounts := make(map[string]bool, len(d.Profiles))
	for _, acc := range d.Profiles {
		if acc == "" || acc == types.AdminOwner {
			return errors.New("invalid profile account '" + acc + "'")
		}
		accounts[acc] = true
	}
	subjects := make(map[string]bool, len(d.Subjects))
	for _, s := range d.Subjects {
		if store.NormalizeSubjectName(s.Name) == "" {
			return errors.New("invalid subject name '" + s.Name + "'")
		}
		for _, owner := range []string{s.ReadableOnlyBy, s.WritableOnlyBy} {
			if owner != "" && owner != types.AdminOwner && !accounts[owner] {
				return errors.New("subject '" + s.Name + "' is restricted to unknown account '" + owner + "'")
			}
		}
		subjects[s.Name] = true
	}
	for i, m := range d.Messages {
		if !subjects[m.Subject] {
			return errors.New("message " + strconv.Itoa(i) + " is sent to unknown subject '" + m.Subject + "'")
		}
		if m.From != "" && !accounts[m.From] {
			return errors.New("message " + strconv.Itoa(i) + " is sent by unknown account '" + m.From + "'")
		}
	}
	return nil
}

// resolveOwner converts a restriction from data.json to its stored form.
func resolveOwner(owner string, profiles map[string]types.Uid) string {
	if owner == "" || owner == types.AdminOwner {
		return owner
	}
	return profiles[owner].String()
}

// genDb loads sample data. Loading the same file twice does not duplicate messages.
func genDb(data *Data) {
	if len(data.Subjects) == 0 {
		log.Println("No data provided, stopping")
		return
	}

	log.Println("Generating profiles...")
	profiles := make(map[string]types.Uid, len(data.Profiles))
	for _, acc := range data.Profiles {
		prof, err := store.Profiles.FindOrCreate(acc)
		if err != nil {
			log.Fatal(err)
		}
		profiles[acc] = prof.Uid()
	}

	log.Println("Generating subjects...")
	subjects := make(map[string]string, len(data.Subjects))
	for _, s := range data.Subjects {
		subj, err := store.Subjects.FindOrCreate(s.Name,
			resolveOwner(s.ReadableOnlyBy, profiles), resolveOwner(s.WritableOnlyBy, profiles))
		if err != nil {
			log.Fatal(err)
		}
		subjects[s.Name] = subj.Id
	}

	log.Println("Generating messages...")
	for i, m := range data.Messages {
		msg := &types.Message{
			Subject:         subjects[m.Subject],
			SenderMessageId: "sample-" + strconv.Itoa(i),
			Message:         m.Text,
		}
		if m.From != "" {
			msg.Sender = profiles[m.From].String()
		}
		if _, _, err := store.Messages.Append(msg); err != nil && err != types.ErrDuplicate {
			log.Fatal(err)
		}
	}

	log.Println("Sample data loaded:", len(data.Profiles), "profiles,", len(data.Subjects), "subjects,",
		len(data.Messages), "messages")
}
