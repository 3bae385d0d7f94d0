package irc

// IRC replies.
const (
	rplWelcome  = "001" // :Welcome message
	rplYourhost = "002" // :Your host is...
	rplCreated  = "003" // :This server was created...
	rplMyinfo   = "004" // <servername> <version> <umodes> <chan modes> <chan modes with a parameter>
	rplIsupport = "005" // 1*13<TOKEN[=value]> :are supported by this server

	rplUmodeis       = "221" // <modes>
	rplLuserclient   = "251" // :<int> users and <int> services on <int> servers
	rplLuserop       = "252" // <int> :operator(s) online
	rplLuserunknown  = "253" // <int> :unknown connection(s)
	rplLuserchannels = "254" // <int> :channels formed
	rplLuserme       = "255" // :I have <int> clients and <int> servers
	rplLocalusers    = "265" // [<u> <m>] :Current local users <u>, max <m>
	rplGlobalusers   = "266" // [<u> <m>] :Current global users <u>, max <m>

	rplAway          = "301" // <nick> :<away message>
	rplUnaway        = "305" // :You are no longer marked as being away
	rplNowaway       = "306" // :You have been marked as being away
	rplWhoisuser     = "311" // <nick> <user> <host> * :<realname>
	rplWhoisserver   = "312" // <nick> <server> :<server info>
	rplWhoisoperator = "313" // <nick> :is an IRC operator
	rplEndofwho      = "315" // <name> :End of WHO list
	rplWhoisidle     = "317" // <nick> <integer> [<integer>] :seconds idle [, signon time]
	rplEndofwhois    = "318" // <nick> :End of WHOIS list
	rplWhoischannels = "319" // <nick> :*( (@/+) <channel> " " )
	rplChannelmodeis = "324" // <channel> <modes> <mode params>
	rplWhoisaccount  = "330" // <nick> <account> :is logged in as
	rplNotopic       = "331" // <channel> :No topic set
	rplTopic         = "332" // <channel> <topic>
	rplTopicwhotime  = "333" // <channel> <nick> <setat>
	rplWhoreply      = "352" // <channel> <user> <host> <server> <nick> "H"/"G" ["*"] [("@"/"+")] :<hop count> <nick>
	rplNamreply      = "353" // <=/*/@> <channel> :1*(@/ /+user)
	rplEndofnames    = "366" // <channel> :End of names list
	rplMotd          = "372" // :- <text>
	rplMotdstart     = "375" // :- <servername> Message of the day -
	rplEndofmotd     = "376" // :End of MOTD command
	rplHostHidden    = "396"

	errNosuchnick       = "401" // <nick> :No such nick/channel
	errNosuchchannel    = "403" // <channel> :No such channel
	errCannotsendtochan = "404" // <channel> :Cannot send to channel
	errInvalidcapcmd    = "410" // <command> :Unknown cap command
	errNorecipient      = "411" // :No recipient given
	errNotexttosend     = "412" // :No text to send
	errInputtoolong     = "417" // :Input line was too long
	errUnknowncommand   = "421" // <command> :Unknown command
	errNomotd           = "422" // :MOTD file missing
	errNonicknamegiven  = "431" // :No nickname given
	errErroneusnickname = "432" // <nick> :Erroneous nickname
	errNicknameinuse    = "433" // <nick> :Nickname in use
	errNotonchannel     = "442" // <channel> :You're not on that channel
	errNotregistered    = "451" // :You have not registered
	errNeedmoreparams   = "461" // <command> :Not enough parameters
	errAlreadyregistred = "462" // :Already registered
	errPasswdmismatch   = "464" // :Password incorrect
	errBannedfromchan   = "474" // <channel> :Cannot join channel (+b)
	errChanoprivsneeded = "482" // <channel> :You're not an operator

	rplWhoissecure = "671" // <nick> :is using a secure connection

	// draft/metadata-2
	rplWhoiskeyvalue     = "760" // <target> <key> <visibility> :<value>
	rplKeyvalue          = "761" // <target> <key> <visibility>[ :<value>]
	rplKeynotset         = "766" // <target> <key> :key not set
	rplMetadatasubok     = "770" // <key>{ <key>}
	rplMetadataunsubok   = "771" // <key>{ <key>}
	rplMetadatasubs      = "772" // <key>{ <key>}
	rplMetadatasynclater = "774" // <target>[ <retry after>]

	rplLoggedin    = "900" // <nick> <nick>!<ident>@<host> <account> :You are now logged in as <user>
	rplLoggedout   = "901" // <nick> <nick>!<ident>@<host> :You are now logged out
	errNicklocked  = "902" // :You must use a nick assigned to you
	rplSaslsuccess = "903" // :SASL authentication successful
	errSaslfail    = "904" // :SASL authentication failed
	errSasltoolong = "905" // :SASL message too long
	errSaslaborted = "906" // :SASL authentication aborted
	errSaslalready = "907" // :You have already authenticated using SASL
	rplSaslmechs   = "908" // <mechanisms> :are available SASL mechanisms
)
